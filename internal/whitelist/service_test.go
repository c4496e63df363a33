package whitelist

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"megabuddies/internal/store"
	logx "megabuddies/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{
		Path:        filepath.Join(t.TempDir(), "wl.db"),
		BusyTimeout: 5 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{}, st, logx.Nop()), st
}

func seedUser(t *testing.T, st *store.Store, id int64) {
	t.Helper()
	if _, err := st.UpsertUser(context.Background(), id, "tester"); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
}

func TestCheckCountsExactlyOnce(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	seedUser(t, st, 1)

	if _, err := svc.Add(ctx, 9, "member"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	tests := []struct {
		name   string
		raw    string
		status CheckStatus
	}{
		{"present", "Member", CheckPresent},
		{"absent", "stranger", CheckAbsent},
		{"invalid empty", "   ", CheckInvalid},
		{"invalid control", "a\x00b", CheckInvalid},
		{"invalid too long", strings.Repeat("x", 200), CheckInvalid},
	}

	var wantChecks, wantHits, wantMisses, wantInvalid int64
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Check(ctx, 1, tt.raw)
			if err != nil {
				t.Fatalf("Check(%q) error: %v", tt.raw, err)
			}
			if res.Status != tt.status {
				t.Fatalf("Check(%q) status = %v, want %v", tt.raw, res.Status, tt.status)
			}
			if tt.status == CheckInvalid && res.Reason == "" {
				t.Fatal("invalid result is missing a reason")
			}

			wantChecks++
			switch tt.status {
			case CheckPresent:
				wantHits++
			case CheckAbsent:
				wantMisses++
			case CheckInvalid:
				wantInvalid++
			}
			c, err := st.StatsSnapshot(ctx)
			if err != nil {
				t.Fatalf("StatsSnapshot error: %v", err)
			}
			if c.TotalChecks != wantChecks || c.TotalHits != wantHits ||
				c.TotalMisses != wantMisses || c.InvalidChecks != wantInvalid {
				t.Fatalf("counters = %+v, want checks=%d hits=%d misses=%d invalid=%d",
					c, wantChecks, wantHits, wantMisses, wantInvalid)
			}
		})
	}
}

func TestAddRemoveOutcomes(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, 1, " Alpha ")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if res.Status != Added || res.Value != "alpha" {
		t.Fatalf("Add = %+v, want Added alpha", res)
	}

	res, err = svc.Add(ctx, 2, "ALPHA")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if res.Status != AlreadyPresent {
		t.Fatalf("duplicate Add = %+v, want AlreadyPresent", res)
	}

	if res, _ := svc.Add(ctx, 1, "  "); res.Status != AddInvalid {
		t.Fatalf("empty Add = %+v, want AddInvalid", res)
	}

	rm, err := svc.Remove(ctx, "alpha")
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if rm.Status != Removed {
		t.Fatalf("Remove = %+v, want Removed", rm)
	}
	if rm, _ := svc.Remove(ctx, "alpha"); rm.Status != NotFound {
		t.Fatalf("second Remove = %+v, want NotFound", rm)
	}
}

func TestListClampsPageSize(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		if _, err := svc.Add(ctx, 1, v); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}

	page, err := svc.List(ctx, 0, 100000)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if page.Page != 1 {
		t.Fatalf("page = %d, want 1", page.Page)
	}
	if page.PageSize != 50 {
		t.Fatalf("pageSize = %d, want clamped default 50", page.PageSize)
	}
	if page.Total != 4 || len(page.Entries) != 4 {
		t.Fatalf("total = %d entries = %d, want 4/4", page.Total, len(page.Entries))
	}

	second, err := svc.List(ctx, 2, 3)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(second.Entries) != 1 || second.Entries[0].Value != "d" {
		t.Fatalf("second page = %+v, want single d", second.Entries)
	}
}
