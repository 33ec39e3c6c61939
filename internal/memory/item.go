package memory

import "time"

// ItemType is one of the four typed memory kinds mentat tracks, each
// carrying its own retrieval type-boost (spec.md §4.5).
type ItemType string

const (
	TypeWorking    ItemType = "working"
	TypeEpisodic   ItemType = "episodic"
	TypeSemantic   ItemType = "semantic"
	TypeProcedural ItemType = "procedural"
)

var typeBoost = map[ItemType]float64{
	TypeWorking:    1.5,
	TypeSemantic:   1.2,
	TypeEpisodic:   1.0,
	TypeProcedural: 0.8,
}

// Item is a typed, connectable unit of memory with a vector companion.
type Item struct {
	ID          string    `json:"id"`
	Type        ItemType  `json:"type"`
	Content     string    `json:"content"`
	Importance  float64   `json:"importance"`
	Connections []string  `json:"connections"`
	CreatedTs   time.Time `json:"created_ts"`
}

func (i Item) ageDays() float64 {
	return time.Since(i.CreatedTs).Hours() / 24
}

// RetrievedItem pairs an Item with the score that earned it a place in a
// retrieve() result set.
type RetrievedItem struct {
	Item  Item
	Score float64
}
