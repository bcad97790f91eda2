package download

import (
	"fmt"
	"sync"
	"time"
)

// Status is a download record's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusQuarantined Status = "quarantined"
	StatusFailed      Status = "failed"
	StatusPromoted    Status = "promoted"
	StatusDeleted     Status = "deleted"
)

// validTransitions is the record state machine. Transitions are one-way; a
// record never re-enters Pending and the terminal states have no exits.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusInProgress, StatusFailed},
	StatusInProgress:  {StatusQuarantined, StatusFailed},
	StatusQuarantined: {StatusPromoted, StatusDeleted, StatusFailed},
	StatusFailed:      {},
	StatusPromoted:    {},
	StatusDeleted:     {},
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = fmt.Errorf("invalid download status transition")

// Record describes one download owned by the gate. Public fields are
// snapshots; the gate mutates records only through transition while holding
// the per-record lock, which also makes promote and delete on the same id
// mutually exclusive.
type Record struct {
	ID             string    `json:"id"`
	FileName       string    `json:"file_name"`
	SourceURL      string    `json:"source_url"`
	QuarantinePath string    `json:"quarantine_path"`
	FinalPath      string    `json:"final_path,omitempty"`
	DeclaredType   string    `json:"declared_type"`
	Size           int64     `json:"size"`
	Hash           string    `json:"hash,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Status         Status    `json:"status"`

	mu sync.Mutex
}

// transition moves the record to a new status, rejecting anything outside
// the state machine. Callers must hold r.mu.
func (r *Record) transition(to Status) error {
	for _, allowed := range validTransitions[r.Status] {
		if allowed == to {
			r.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (download %s)", ErrInvalidTransition, r.Status, to, r.ID)
}

// snapshot returns a copy safe to hand outside the gate. Callers must hold
// r.mu or otherwise guarantee exclusive access.
func (r *Record) snapshot() Record {
	return Record{
		ID:             r.ID,
		FileName:       r.FileName,
		SourceURL:      r.SourceURL,
		QuarantinePath: r.QuarantinePath,
		FinalPath:      r.FinalPath,
		DeclaredType:   r.DeclaredType,
		Size:           r.Size,
		Hash:           r.Hash,
		StartedAt:      r.StartedAt,
		Status:         r.Status,
	}
}

// Undecided reports whether the record still occupies quarantine attention.
func (r *Record) Undecided() bool {
	switch r.Status {
	case StatusPending, StatusInProgress, StatusQuarantined:
		return true
	default:
		return false
	}
}
