package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Workers     int           // concurrent in-flight deliveries (default 4)
	RatePerSec  int           // send pacing (default 10)
	SendTimeout time.Duration // per-delivery timeout (default 10s)
	PageSize    int           // recipient keyset page size (default 200)
	MaxTextLen  int           // message payload bound in runes (default 3500)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Failure is one recorded per-recipient delivery failure.
type Failure struct {
	UserID int64
	Reason string
}

// Report is the aggregate outcome of one broadcast job. Skipped counts
// recipients who blocked the bot; they are neither delivered nor failed.
type Report struct {
	ID        string
	Status    Status
	Attempted int
	Delivered int
	Failed    int
	Skipped   int
	Failures  []Failure // capped sample
	Duration  time.Duration
}

const failureSampleCap = 100

type jobState struct {
	id      string
	cancel  context.CancelFunc
	started time.Time

	status atomic.Value // Status

	attempted atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	failMu   sync.Mutex
	failures []Failure

	durationNS atomic.Int64
}

func (j *jobState) recordFailure(userID int64, reason string) {
	j.failed.Add(1)
	j.failMu.Lock()
	if len(j.failures) < failureSampleCap {
		j.failures = append(j.failures, Failure{UserID: userID, Reason: reason})
	}
	j.failMu.Unlock()
}

func (j *jobState) report() Report {
	st, _ := j.status.Load().(Status)
	j.failMu.Lock()
	failures := append([]Failure(nil), j.failures...)
	j.failMu.Unlock()
	return Report{
		ID:        j.id,
		Status:    st,
		Attempted: int(j.attempted.Load()),
		Delivered: int(j.delivered.Load()),
		Failed:    int(j.failed.Load()),
		Skipped:   int(j.skipped.Load()),
		Failures:  failures,
		Duration:  time.Duration(j.durationNS.Load()),
	}
}
