package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the ledger of explanation runs and the networks they ran on
type Store interface {
	Close() error

	// Runs
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, f Filter) ([]Run, error)

	// Networks
	UpsertNetwork(ctx context.Context, n Network) error
	GetNetwork(ctx context.Context, name string) (Network, bool, error)
}

// Run is one recorded explanation
type Run struct {
	ID        string
	Algorithm string
	Network   string
	Backend   string
	Targets   []string
	Evidence  map[string]string
	Queries   uint64
	CacheHits uint64
	Duration  time.Duration
	CreatedAt time.Time
	Payload   json.RawMessage // full result as JSON
}

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Algorithm string
	Network   string
	Limit     int
}

// DefaultLimit applies when Filter.Limit is not positive.
const DefaultLimit = 20

// Network is a stored network definition
type Network struct {
	Name      string
	Variables int
	Source    []byte // YAML document
	UpdatedAt time.Time
}
