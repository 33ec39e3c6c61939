package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/mentat-sh/mentat/internal/config"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactively drive the JSON-RPC tool protocol",
	Long:  `repl wires the full component graph in-process and accepts shell-like lines ("call <tool> key=value ...", "list", "resources") for manual testing, without going through stdio transport framing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		return runRepl(cfg)
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}

var replID int

func runRepl(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewComponents(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer c.Stop(context.Background())

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	serveDone := make(chan error, 1)
	go func() { serveDone <- c.Server.Serve(ctx, inR, outW) }()

	outScanner := bufio.NewScanner(outR)
	outScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	fmt.Println("mentatd repl -- commands: list | resources | call <tool> key=value ... | quit")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		req, err := buildRequest(line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}

		data, err := json.Marshal(req)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if _, err := inW.Write(append(data, '\n')); err != nil {
			fmt.Println("write error:", err)
			break
		}

		if !outScanner.Scan() {
			break
		}
		fmt.Println(outScanner.Text())
	}

	inW.Close()
	outW.Close()
	cancel()
	<-serveDone
	return nil
}

// buildRequest tokenizes a "list" / "resources" / "call <tool>
// key=value..." line into a JSON-RPC request, using google/shlex so
// quoted values may contain spaces.
func buildRequest(line string) (map[string]interface{}, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	replID++
	req := map[string]interface{}{"jsonrpc": "2.0", "id": replID}

	switch fields[0] {
	case "list":
		req["method"] = "tools/list"
	case "resources":
		req["method"] = "resources/list"
	case "templates":
		req["method"] = "resources/templates/list"
	case "read":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: read <uri>")
		}
		req["method"] = "resources/read"
		req["params"] = map[string]interface{}{"uri": fields[1]}
	case "call":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: call <tool> key=value ...")
		}
		args := map[string]interface{}{}
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("bad argument %q, want key=value", kv)
			}
			args[k] = parseScalar(v)
		}
		req["method"] = "tools/call"
		req["params"] = map[string]interface{}{"name": fields[1], "arguments": args}
	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}

	return req, nil
}

// parseScalar promotes a bare token to bool/int/float when it
// unambiguously parses as one, else keeps it as a string.
func parseScalar(v string) interface{} {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
