package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "megabuddies/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddContainsRemove(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.AddEntry(ctx, "  AbC  ", 1)
	if err != nil {
		t.Fatalf("AddEntry error: %v", err)
	}
	if st != Added {
		t.Fatalf("first add = %v, want Added", st)
	}

	for _, probe := range []string{"abc", "ABC", " abc "} {
		ok, err := s.Contains(ctx, probe)
		if err != nil {
			t.Fatalf("Contains(%q) error: %v", probe, err)
		}
		if !ok {
			t.Fatalf("Contains(%q) = false, want true", probe)
		}
	}

	st, err = s.AddEntry(ctx, "abc", 2)
	if err != nil {
		t.Fatalf("AddEntry error: %v", err)
	}
	if st != AlreadyPresent {
		t.Fatalf("second add = %v, want AlreadyPresent", st)
	}
	if n, _ := s.CountEntries(ctx); n != 1 {
		t.Fatalf("CountEntries = %d, want 1", n)
	}

	removed, err := s.RemoveEntry(ctx, "ABC")
	if err != nil {
		t.Fatalf("RemoveEntry error: %v", err)
	}
	if !removed {
		t.Fatal("RemoveEntry = false, want true")
	}
	if ok, _ := s.Contains(ctx, "abc"); ok {
		t.Fatal("Contains after remove = true, want false")
	}
	if removed, _ = s.RemoveEntry(ctx, "abc"); removed {
		t.Fatal("second RemoveEntry = true, want false")
	}
}

func TestConcurrentAddSameValue(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	const workers = 16
	results := make([]AddStatus, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.AddEntry(ctx, "shared-value", int64(i))
		}(i)
	}
	wg.Wait()

	added := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("AddEntry[%d] error: %v", i, errs[i])
		}
		if results[i] == Added {
			added++
		}
	}
	if added != 1 {
		t.Fatalf("Added outcomes = %d, want exactly 1", added)
	}
	if n, _ := s.CountEntries(ctx); n != 1 {
		t.Fatalf("CountEntries = %d, want 1", n)
	}
}

func TestUpsertUserKeepsFirstSeen(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	u1, err := s.UpsertUser(ctx, 42, "alice")
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	u2, err := s.UpsertUser(ctx, 42, "")
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}

	if !u2.FirstSeen.Equal(u1.FirstSeen) {
		t.Fatalf("first_seen changed on upsert: %v -> %v", u1.FirstSeen, u2.FirstSeen)
	}
	if !u2.LastSeen.After(u1.LastSeen) {
		t.Fatalf("last_seen not advanced: %v -> %v", u1.LastSeen, u2.LastSeen)
	}
	if u2.DisplayName != "alice" {
		t.Fatalf("display_name = %q, want retained %q", u2.DisplayName, "alice")
	}
}

func TestRecordCheckCounters(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordCheck(ctx, 7, CheckHit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordCheck for unknown user = %v, want ErrNotFound", err)
	}

	if _, err := s.UpsertUser(ctx, 7, "bob"); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	for _, o := range []CheckOutcome{CheckHit, CheckMiss, CheckMiss, CheckInvalid} {
		if err := s.RecordCheck(ctx, 7, o); err != nil {
			t.Fatalf("RecordCheck(%v) error: %v", o, err)
		}
	}

	c, err := s.StatsSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatsSnapshot error: %v", err)
	}
	if c.TotalChecks != 4 || c.TotalHits != 1 || c.TotalMisses != 2 || c.InvalidChecks != 1 {
		t.Fatalf("counters = %+v, want checks=4 hits=1 misses=2 invalid=1", c)
	}
	if c.TotalUsers != 1 {
		t.Fatalf("TotalUsers = %d, want 1", c.TotalUsers)
	}

	u, err := s.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if u.CheckCount != 4 || u.HitCount != 1 || u.MissCount != 2 || u.InvalidCount != 1 {
		t.Fatalf("user counters = %+v", u)
	}
}

func TestListOrderAndPaging(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Same added_at (one bulk tx) so ordering falls back to value.
	if _, err := s.BulkImport(ctx, []string{"charlie", "alpha", "bravo"}, 1); err != nil {
		t.Fatalf("BulkImport error: %v", err)
	}

	all, err := s.ListEntries(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListEntries error: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(all) != len(want) {
		t.Fatalf("ListEntries len = %d, want %d", len(all), len(want))
	}
	for i, e := range all {
		if e.Value != want[i] {
			t.Fatalf("ListEntries[%d] = %q, want %q", i, e.Value, want[i])
		}
	}

	page, err := s.ListEntries(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListEntries page error: %v", err)
	}
	if len(page) != 1 || page[0].Value != "bravo" {
		t.Fatalf("page = %+v, want single bravo", page)
	}

	exp, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll error: %v", err)
	}
	for i, e := range exp {
		if e.Value != want[i] {
			t.Fatalf("ExportAll[%d] = %q, want %q", i, e.Value, want[i])
		}
	}
}

func TestBulkImportCounts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddEntry(ctx, "abc", 1); err != nil {
		t.Fatalf("AddEntry error: %v", err)
	}
	res, err := s.BulkImport(ctx, []string{"abc", "XYZ", " abc ", "   ", "new"}, 1)
	if err != nil {
		t.Fatalf("BulkImport error: %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 2 || res.Invalid != 1 {
		t.Fatalf("result = %+v, want inserted=2 duplicates=2 invalid=1", res)
	}
}

func TestUserIDPaging(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		if _, err := s.UpsertUser(ctx, id, ""); err != nil {
			t.Fatalf("UpsertUser error: %v", err)
		}
	}
	maxID, err := s.MaxUserID(ctx)
	if err != nil {
		t.Fatalf("MaxUserID error: %v", err)
	}
	if maxID != 5 {
		t.Fatalf("MaxUserID = %d, want 5", maxID)
	}

	var got []int64
	after := int64(0)
	for {
		page, err := s.UserIDsAfter(ctx, after, maxID, 2)
		if err != nil {
			t.Fatalf("UserIDsAfter error: %v", err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page...)
		after = page[len(page)-1]
	}
	if len(got) != 5 {
		t.Fatalf("paged ids = %v, want 5 ids", got)
	}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("paged ids out of order: %v", got)
		}
	}

	// A user past the snapshot bound stays invisible to the cursor.
	if _, err := s.UpsertUser(ctx, 99, ""); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	page, err := s.UserIDsAfter(ctx, 5, maxID, 10)
	if err != nil {
		t.Fatalf("UserIDsAfter error: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("ids beyond snapshot bound leaked: %v", page)
	}
}

func TestRecomputeCountersRepairsSkew(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertUser(ctx, 1, ""); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordCheck(ctx, 1, CheckHit); err != nil {
			t.Fatalf("RecordCheck error: %v", err)
		}
	}

	// Skew the cache directly, then repair.
	if _, err := s.db.ExecContext(ctx, `UPDATE counters SET value = 999`); err != nil {
		t.Fatalf("skew error: %v", err)
	}
	if err := s.RecomputeCounters(ctx); err != nil {
		t.Fatalf("RecomputeCounters error: %v", err)
	}

	c, err := s.StatsSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatsSnapshot error: %v", err)
	}
	if c.TotalChecks != 3 || c.TotalHits != 3 || c.TotalMisses != 0 || c.InvalidChecks != 0 {
		t.Fatalf("counters after recompute = %+v", c)
	}
}

func TestTopUsersOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// User 1 joins first; 1 and 2 end with equal check counts.
	if _, err := s.UpsertUser(ctx, 1, "first"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.UpsertUser(ctx, 2, "second"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertUser(ctx, 3, "third"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		_ = s.RecordCheck(ctx, 1, CheckHit)
		_ = s.RecordCheck(ctx, 2, CheckMiss)
	}
	_ = s.RecordCheck(ctx, 3, CheckHit)

	top, err := s.TopUsers(ctx, 2)
	if err != nil {
		t.Fatalf("TopUsers error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("TopUsers len = %d, want 2", len(top))
	}
	if top[0].ID != 1 || top[1].ID != 2 {
		t.Fatalf("TopUsers order = [%d %d], want [1 2]", top[0].ID, top[1].ID)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"  AbC  ", "abc"},
		{"XYZ", "xyz"},
		{"\t0xDEAD \n", "0xdead"},
		{"   ", ""},
		{"Straße", "strasse"}, // case folding, not plain lowercasing
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
