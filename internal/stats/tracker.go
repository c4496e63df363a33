// Package stats is the thin aggregation surface for admin reporting: it
// records user interactions and reads the store's counter snapshot.
package stats

import (
	"context"

	"megabuddies/internal/store"
	logx "megabuddies/pkg/logx"
)

type Tracker struct {
	store *store.Store
	log   logx.Logger
}

func New(st *store.Store, log logx.Logger) *Tracker {
	return &Tracker{store: st, log: log}
}

// RecordInteraction upserts the user row. The router calls this once per
// inbound command, before any handler logic runs.
func (t *Tracker) RecordInteraction(ctx context.Context, userID int64, displayName string) error {
	_, err := t.store.UpsertUser(ctx, userID, displayName)
	return err
}

type Report struct {
	Counters store.Counters
	TopUsers []store.User
}

// Report returns the counter snapshot plus the topN most active users
// (check_count descending, earliest first_seen ranked higher on ties).
func (t *Tracker) Report(ctx context.Context, topN int) (Report, error) {
	if topN <= 0 {
		topN = 5
	}
	counters, err := t.store.StatsSnapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	top, err := t.store.TopUsers(ctx, topN)
	if err != nil {
		return Report{}, err
	}
	return Report{Counters: counters, TopUsers: top}, nil
}

// Recompute rebuilds the counter cache from raw state. Wired to the nightly
// maintenance job and the /recount operator command.
func (t *Tracker) Recompute(ctx context.Context) error {
	return t.store.RecomputeCounters(ctx)
}
