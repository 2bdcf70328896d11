package workflow

import (
	"time"

	"github.com/google/uuid"

	"songconvert/internal/wire"
)

// Item is one submission travelling through the pipeline. Exactly one worker
// holds an item at a time; Location is never modified.
type Item struct {
	ID          string
	Location    string
	Reply       *wire.Reply
	SubmittedAt time.Time
}

// NewItem creates a work item with a fresh identifier.
func NewItem(location string, reply *wire.Reply) *Item {
	return &Item{
		ID:          uuid.NewString(),
		Location:    location,
		Reply:       reply,
		SubmittedAt: time.Now().UTC(),
	}
}
