package ledger

import (
	"errors"
	"fmt"
	"time"
)

// SyncableType identifies the kind of entity a sync recomputes.
type SyncableType string

const (
	SyncableTypeAccount SyncableType = "account"
	SyncableTypeFamily  SyncableType = "family"
)

// SyncableRef is a polymorphic reference to the thing being synced.
type SyncableRef struct {
	Type SyncableType
	ID   string
}

func (r SyncableRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// SyncStatus is the lifecycle state of a Sync record.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusStale     SyncStatus = "stale"
)

// Incomplete reports whether the sync is still in flight.
func (s SyncStatus) Incomplete() bool {
	return s == SyncStatusPending || s == SyncStatusSyncing
}

// Terminal reports whether the status can never change again.
// Failed is terminal for execution but still participates in finalization.
func (s SyncStatus) Terminal() bool {
	return !s.Incomplete()
}

// transitions is the explicit state transition table.
var transitions = map[SyncStatus][]SyncStatus{
	SyncStatusPending: {SyncStatusSyncing, SyncStatusCompleted, SyncStatusFailed, SyncStatusStale},
	SyncStatusSyncing: {SyncStatusCompleted, SyncStatusFailed, SyncStatusStale},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to SyncStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ErrInvalidWindow is returned when a sync window's start date falls
// after its end date.
var ErrInvalidWindow = errors.New("window start date must be on or before end date")

// Window is an inclusive date range. A nil bound means unbounded on
// that side.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Validate rejects windows whose start is after their end.
func (w Window) Validate() error {
	if w.Start != nil && w.End != nil && w.Start.After(*w.End) {
		return ErrInvalidWindow
	}
	return nil
}

// Widen combines two windows into the smallest window covering both:
// min of starts, max of ends. A bound that is unbounded on either side
// stays unbounded in the result.
func (w Window) Widen(other Window) Window {
	var out Window
	if w.Start != nil && other.Start != nil {
		s := *w.Start
		if other.Start.Before(s) {
			s = *other.Start
		}
		out.Start = &s
	}
	if w.End != nil && other.End != nil {
		e := *w.End
		if other.End.After(e) {
			e = *other.End
		}
		out.End = &e
	}
	return out
}

func (w Window) String() string {
	format := func(t *time.Time) string {
		if t == nil {
			return "unbounded"
		}
		return t.Format(DateLayout)
	}
	return fmt.Sprintf("[%s, %s]", format(w.Start), format(w.End))
}

// SyncStats records what a sync execution did, serialized to the
// sync_stats column as JSON.
type SyncStats struct {
	BalancesWritten int    `json:"balances_written,omitempty"`
	ChildrenSpawned int    `json:"children_spawned,omitempty"`
	DurationMS      int64  `json:"duration_ms,omitempty"`
	WindowStart     string `json:"window_start,omitempty"`
	WindowEnd       string `json:"window_end,omitempty"`
}

// Sync is a persistent unit of work: "recompute this syncable over this
// window". Family syncs fan out one child sync per account; a parent is
// finalized only after all its children reach a terminal state.
type Sync struct {
	ID       string
	Syncable SyncableRef
	ParentID string // empty = no parent
	Status   SyncStatus
	Window   Window
	Error    string
	Stats    SyncStats

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncingAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	StaleAt     *time.Time

	// FinalizedAt doubles as the finalization claim: the first process
	// to set it owns the completed/failed transition and the post-sync
	// hooks. See syncer.Finalizer.
	FinalizedAt *time.Time
}
