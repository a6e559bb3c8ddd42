// Package checkpoint persists the cursor of a resumable bulk reindex.
//
// A State is saved after every step so an interrupted run restarts where it
// stopped. Stores are keyed by a run name; SQLiteStore, BlobStore and
// DynamoStore are provided.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/tsearch/source"
)

var (
	// ErrNotFound is returned by Load when no state was saved under the name.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrConcurrentModification is returned by Save when another writer
	// saved a newer version of the state.
	ErrConcurrentModification = errors.New("checkpoint: concurrent modification detected")
)

// State is the persisted progress of a reindex run.
type State struct {
	// Since is the date field value of the last indexed row.
	Since *time.Time `json:"since,omitempty"`
	// Last is the last indexed row, excluded from the next step.
	Last *source.Ref `json:"last,omitempty"`
	// Nb is the number of rows indexed by the last step.
	Nb int `json:"nb"`
	// Done is the number of rows indexed so far.
	Done int64 `json:"done"`
	// Counted reports whether Initial has been computed.
	Counted bool `json:"counted"`
	// Initial is the number of rows to reindex when the run started.
	Initial int64 `json:"initial"`
	// Remaining is the current estimate of rows left.
	Remaining int64 `json:"remaining"`
	// Drift is the difference found by the last recount.
	Drift int64 `json:"drift"`
	// CumulatedDrift sums every recount's drift.
	CumulatedDrift int64 `json:"cumulated_drift"`
	// Elapsed is the time spent in steps, excluding delays.
	Elapsed time.Duration `json:"elapsed"`

	// Version is maintained by the store and used for optimistic locking.
	Version uint64 `json:"version"`
	// UpdatedAt is set by the store on Save.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Since != nil {
		t := *s.Since
		c.Since = &t
	}
	if s.Last != nil {
		r := *s.Last
		c.Last = &r
	}
	return &c
}

// Store loads and saves states by run name.
type Store interface {
	// Load returns ErrNotFound when nothing was saved.
	Load(ctx context.Context, name string) (*State, error)
	// Save persists st and advances st.Version. Stores that support
	// optimistic locking fail with ErrConcurrentModification when the stored
	// version differs from st.Version.
	Save(ctx context.Context, name string, st *State) error
	// Delete removes the state. Deleting a missing state is not an error.
	Delete(ctx context.Context, name string) error
}

// Nop is a Store that remembers nothing. It is used when a run has no
// state file.
type Nop struct{}

func (Nop) Load(context.Context, string) (*State, error) { return nil, ErrNotFound }

func (Nop) Save(_ context.Context, _ string, st *State) error {
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (Nop) Delete(context.Context, string) error { return nil }
