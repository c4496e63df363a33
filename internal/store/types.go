package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an operation targets a user row that does not
// exist yet (callers must upsert first).
var ErrNotFound = errors.New("store: not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// User tracks one chat user. check_count and the per-outcome columns are raw
// state; the global counters table is only a cache over them.
type User struct {
	ID           int64
	DisplayName  string
	FirstSeen    time.Time
	LastSeen     time.Time
	CheckCount   int64
	HitCount     int64
	MissCount    int64
	InvalidCount int64
}

// Entry is one whitelist row. Value is stored normalized.
type Entry struct {
	Value   string
	AddedBy int64
	AddedAt time.Time
}

type AddStatus int

const (
	Added AddStatus = iota
	AlreadyPresent
)

// CheckOutcome classifies a single whitelist check for counter accounting.
type CheckOutcome int

const (
	CheckHit CheckOutcome = iota
	CheckMiss
	CheckInvalid
)

// Counters is a point-in-time snapshot of the aggregate counters.
type Counters struct {
	TotalChecks   int64
	TotalHits     int64
	TotalMisses   int64
	InvalidChecks int64
	EntriesCount  int64
	TotalUsers    int64
}

// ImportResult aggregates one bulk import transaction.
type ImportResult struct {
	Inserted   int
	Duplicates int
	Invalid    int
}
