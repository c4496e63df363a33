package whitelist

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestImportCSVScenario(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportCSV(ctx, 1, strings.NewReader("value\nabc\nXYZ\n abc \n\n"))
	if err != nil {
		t.Fatalf("ImportCSV error: %v", err)
	}
	if report.Inserted != 2 || report.Duplicates != 1 || report.ParseErrors != 0 || report.Invalid != 0 {
		t.Fatalf("report = %+v, want inserted=2 duplicates=1 parse_errors=0 invalid=0", report)
	}

	for _, v := range []string{"abc", "xyz"} {
		ok, err := svc.store.Contains(ctx, v)
		if err != nil {
			t.Fatalf("Contains error: %v", err)
		}
		if !ok {
			t.Fatalf("Contains(%q) = false after import", v)
		}
	}
}

func TestImportCSVBadHeader(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	for _, in := range []string{"", "address\nabc\n", "value,extra\nabc\n"} {
		_, err := svc.ImportCSV(context.Background(), 1, strings.NewReader(in))
		if !errors.Is(err, ErrBadHeader) {
			t.Fatalf("ImportCSV(%q) error = %v, want ErrBadHeader", in, err)
		}
	}
}

func TestImportCSVRowIsolation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	// A two-field row and a too-long row must not stop the rows after them.
	in := "value\nalpha\nbad,row\n" + strings.Repeat("x", 300) + "\nbeta\n"
	report, err := svc.ImportCSV(context.Background(), 1, strings.NewReader(in))
	if err != nil {
		t.Fatalf("ImportCSV error: %v", err)
	}
	if report.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2 (alpha, beta)", report.Inserted)
	}
	if report.ParseErrors != 1 {
		t.Fatalf("parse_errors = %d, want 1", report.ParseErrors)
	}
	if report.Invalid != 1 {
		t.Fatalf("invalid = %d, want 1", report.Invalid)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	seed := []string{"Gamma", " beta ", "ALPHA"}
	for _, v := range seed {
		if _, err := svc.Add(ctx, 1, v); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	if n != len(seed) {
		t.Fatalf("ExportCSV count = %d, want %d", n, len(seed))
	}
	if !strings.HasPrefix(buf.String(), "value\n") {
		t.Fatalf("export missing header: %q", buf.String())
	}

	// Importing the export into the same store yields only duplicates.
	report, err := svc.ImportCSV(ctx, 1, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportCSV error: %v", err)
	}
	if report.Inserted != 0 || report.Duplicates != len(seed) {
		t.Fatalf("same-store reimport = %+v, want inserted=0 duplicates=%d", report, len(seed))
	}

	// Importing into an empty store inserts everything.
	fresh, _ := newTestService(t)
	report, err = fresh.ImportCSV(ctx, 1, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportCSV error: %v", err)
	}
	if report.Inserted != len(seed) || report.Duplicates != 0 {
		t.Fatalf("fresh import = %+v, want inserted=%d duplicates=0", report, len(seed))
	}
}
