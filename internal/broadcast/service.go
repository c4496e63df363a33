// Package broadcast fans one operator message out to every known user with a
// bounded worker pool, per-delivery timeout and partial-failure isolation.
//
// The recipient set is snapshotted at job start: the engine records the
// highest user id and pages through ids with keyset cursors bounded by it, so
// users who join mid-broadcast are excluded from that job.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"megabuddies/internal/transport"
	logx "megabuddies/pkg/logx"
)

// ErrInvalidMessage rejects an empty or oversized payload before any
// recipient is touched.
var ErrInvalidMessage = errors.New("broadcast: message is empty or too long")

// RecipientSource pages the snapshot recipient set without materializing it.
type RecipientSource interface {
	MaxUserID(ctx context.Context) (int64, error)
	UserIDsAfter(ctx context.Context, afterID, maxID int64, limit int) ([]int64, error)
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	src    RecipientSource
	sender transport.Sender
	log    logx.Logger

	jobsMu sync.Mutex
	jobs   map[string]*jobState
}

func New(cfg Config, src RecipientSource, sender transport.Sender, log logx.Logger) *Service {
	cfg = withDefaults(cfg)
	return &Service{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		src:     src,
		sender:  sender,
		log:     log,
		jobs:    map[string]*jobState{},
	}
}

// Apply swaps in new tuning (workers, rate, timeout). In-flight jobs keep the
// settings they started with.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = 3500
	}
	return cfg
}

// RunResult is the terminal outcome of an asynchronous job.
type RunResult struct {
	Report Report
	Err    error
}

// Run executes one broadcast job to completion and returns its report. It
// blocks until every attempted recipient has a terminal outcome.
func (s *Service) Run(ctx context.Context, text string) (Report, error) {
	_, done, err := s.Start(ctx, text)
	if err != nil {
		return Report{}, err
	}
	res := <-done
	return res.Report, res.Err
}

// Start validates the payload, snapshots the recipient bound and launches
// delivery in the background. The job id is usable with Cancel/Status right
// away; the final report arrives on the returned channel.
func (s *Service) Start(ctx context.Context, text string) (string, <-chan RunResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > cfg.MaxTextLen {
		return "", nil, ErrInvalidMessage
	}

	jctx, cancel := context.WithCancel(ctx)

	j := &jobState{id: uuid.NewString(), cancel: cancel, started: time.Now()}
	j.status.Store(StatusPending)
	s.jobsMu.Lock()
	s.jobs[j.id] = j
	s.jobsMu.Unlock()

	maxID, err := s.src.MaxUserID(jctx)
	if err != nil {
		j.status.Store(StatusCompleted)
		cancel()
		return "", nil, fmt.Errorf("broadcast: snapshot: %w", err)
	}

	done := make(chan RunResult, 1)
	go func() {
		defer cancel()
		rep, err := s.execute(jctx, j, cfg, limiter, maxID, text)
		done <- RunResult{Report: rep, Err: err}
	}()
	return j.id, done, nil
}

func (s *Service) execute(jctx context.Context, j *jobState, cfg Config, limiter *rate.Limiter, maxID int64, text string) (Report, error) {
	j.status.Store(StatusInProgress)
	s.log.Info("broadcast job started",
		logx.String("job", j.id), logx.Int64("snapshot_max_id", maxID),
		logx.Int("workers", cfg.Workers))

	ids := make(chan int64)
	var feedErr error
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ids)
		after := int64(0)
		for {
			page, err := s.src.UserIDsAfter(jctx, after, maxID, cfg.PageSize)
			if err != nil {
				if jctx.Err() == nil {
					feedErr = err
				}
				return
			}
			if len(page) == 0 {
				return
			}
			for _, id := range page {
				select {
				case ids <- id:
				case <-jctx.Done():
					return
				}
			}
			after = page[len(page)-1]
		}
	}()

	var workerWG sync.WaitGroup
	workerWG.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer workerWG.Done()
			for id := range ids {
				// Pacing; a cancel while waiting means this recipient is
				// never attempted.
				if err := limiter.Wait(jctx); err != nil {
					return
				}
				s.deliver(j, id, text, cfg.SendTimeout)
			}
		}()
	}

	workerWG.Wait()
	wg.Wait()

	if jctx.Err() != nil {
		j.status.Store(StatusCancelled)
	} else {
		j.status.Store(StatusCompleted)
	}
	j.durationNS.Store(int64(time.Since(j.started)))

	rep := j.report()
	fields := []logx.Field{
		logx.String("job", rep.ID), logx.String("status", string(rep.Status)),
		logx.Int("attempted", rep.Attempted), logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed), logx.Int("skipped", rep.Skipped),
		logx.Duration("dur", rep.Duration),
	}
	if rep.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}

	if feedErr != nil {
		return rep, fmt.Errorf("broadcast: recipient paging: %w", feedErr)
	}
	return rep, nil
}

// deliver runs one attempt under its own timeout-only context, detached from
// the job cancel so an in-flight send always reaches a terminal outcome.
func (s *Service) deliver(j *jobState, userID int64, text string, timeout time.Duration) {
	j.attempted.Add(1)

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.sender.SendText(sctx, transport.ChatTarget{ChatID: userID}, text, nil)
	switch {
	case err == nil:
		j.delivered.Add(1)
	case errors.Is(err, transport.ErrRecipientBlocked):
		j.skipped.Add(1)
	case errors.Is(err, context.DeadlineExceeded):
		j.recordFailure(userID, "timeout")
	default:
		j.recordFailure(userID, err.Error())
		s.log.Debug("broadcast send failed",
			logx.String("job", j.id), logx.Int64("user", userID), logx.Err(err))
	}
}

// Cancel stops scheduling new deliveries for the job; in-flight sends finish.
// Returns false for an unknown or already finished job.
func (s *Service) Cancel(id string) bool {
	s.jobsMu.Lock()
	j, ok := s.jobs[id]
	s.jobsMu.Unlock()
	if !ok {
		return false
	}
	if st, _ := j.status.Load().(Status); st != StatusPending && st != StatusInProgress {
		return false
	}
	j.cancel()
	return true
}

// Status returns the current report for a job id.
func (s *Service) Status(id string) (Report, bool) {
	s.jobsMu.Lock()
	j, ok := s.jobs[id]
	s.jobsMu.Unlock()
	if !ok {
		return Report{}, false
	}
	return j.report(), true
}

// Active lists jobs that have not reached a terminal status yet.
func (s *Service) Active() []Report {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	var out []Report
	for _, j := range s.jobs {
		if st, _ := j.status.Load().(Status); st == StatusPending || st == StatusInProgress {
			out = append(out, j.report())
		}
	}
	return out
}
