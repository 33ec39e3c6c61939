package main

import (
	"context"
	"fmt"
	"sort"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"

	"github.com/mentat-sh/mentat/internal/config"
)

// tableStyles mirrors the teacher's formatter.TableFormatter palette,
// reused here for the status/stats CLI snapshots instead of skill
// listings.
type tableStyles struct {
	header lipgloss.Style
	odd    lipgloss.Style
	even   lipgloss.Style
	border lipgloss.Style
}

func newTableStyles() tableStyles {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return tableStyles{
		header: lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1),
		odd:    lipgloss.NewStyle().Foreground(gray).Padding(0, 1),
		even:   lipgloss.NewStyle().Foreground(lightGray).Padding(0, 1),
		border: lipgloss.NewStyle().Foreground(purple),
	}
}

func (s tableStyles) newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.header
			case row%2 == 0:
				return s.even
			default:
				return s.odd
			}
		})
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the health of every registered provider and service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		return runStatus(cfg)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache, memory, and token optimizer accuracy snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		return runStats(cfg)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
}

// runStatus builds components just long enough to print a point-in-time
// snapshot, then tears them back down; it never starts the RPC loop.
func runStatus(cfg *config.Config) error {
	ctx := context.Background()
	c, err := NewComponents(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer c.Stop(ctx)

	styles := newTableStyles()

	fmt.Println("Overall:", c.Monitor.Overall())
	fmt.Println()

	t := styles.newTable().Headers("Provider", "Status", "Success Rate", "Avg Latency (ms)", "Last Success")
	names := make([]string, 0, len(c.Dispatcher.Snapshot()))
	snapshot := c.Dispatcher.Snapshot()
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snapshot[name]
		lastSuccess := "never"
		if !st.LastSuccessTs.IsZero() {
			lastSuccess = st.LastSuccessTs.Format("2006-01-02 15:04:05")
		}
		t.Row(name, st.Status, fmt.Sprintf("%.2f", st.SuccessRate), fmt.Sprintf("%.1f", st.AvgLatencyMs), lastSuccess)
	}
	fmt.Println(t)

	fmt.Println()
	svc := styles.newTable().Headers("Service", "Status")
	for _, name := range c.Registry.Names() {
		if _, ok := c.Registry.Get(name); ok {
			svc.Row(name, "registered")
		}
	}
	fmt.Println(svc)

	return nil
}

func runStats(cfg *config.Config) error {
	ctx := context.Background()
	c, err := NewComponents(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer c.Stop(ctx)

	styles := newTableStyles()

	cacheStats := c.Cache.Stats()
	ct := styles.newTable().Headers("Metric", "Value")
	ct.Row("hit rate", fmt.Sprintf("%.2f", cacheStats.HitRate()))
	ct.Row("miss rate", fmt.Sprintf("%.2f", cacheStats.MissRate()))
	ct.Row("entries", fmt.Sprintf("%d", cacheStats.EntryCount))
	ct.Row("total bytes", fmt.Sprintf("%d", cacheStats.TotalBytes))
	fmt.Println("Cache:")
	fmt.Println(ct)

	fmt.Println()
	fmt.Println("Memory items:", len(c.Memory.GetAll()))

	fmt.Println()
	tt := styles.newTable().Headers("Model", "Mean Abs Error")
	modelNames := make([]string, 0)
	optStats := c.Optimizer.Stats()
	for model := range optStats {
		modelNames = append(modelNames, model)
	}
	sort.Strings(modelNames)
	for _, model := range modelNames {
		tt.Row(model, fmt.Sprintf("%.2f", optStats[model]))
	}
	fmt.Println("Token optimizer accuracy:")
	fmt.Println(tt)

	return nil
}
