package whitelist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	logx "megabuddies/pkg/logx"
)

// csvHeader is the single required header row of the interchange format.
const csvHeader = "value"

// ErrBadHeader means the uploaded file is not in the expected format at all
// (missing or wrong header row); nothing is imported.
var ErrBadHeader = errors.New("whitelist: first row must be the header \"value\"")

type ImportReport struct {
	Inserted    int
	Duplicates  int
	Invalid     int
	ParseErrors int
}

// ImportCSV parses one value per row and imports the valid ones in a single
// store transaction. Blank rows are skipped; rows that trim to nothing or
// fail to parse are counted as parse errors; rows the value policy rejects
// are counted as invalid. No row aborts the rest.
func (s *Service) ImportCSV(ctx context.Context, operatorID int64, r io.Reader) (ImportReport, error) {
	var report ImportReport

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = false

	header, err := cr.Read()
	if err != nil {
		return report, ErrBadHeader
	}
	if len(header) != 1 || strings.ToLower(strings.TrimSpace(header[0])) != csvHeader {
		return report, ErrBadHeader
	}

	var values []string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.ParseErrors++
			continue
		}
		if len(record) != 1 {
			report.ParseErrors++
			continue
		}
		trimmed := strings.TrimSpace(record[0])
		if trimmed == "" {
			report.ParseErrors++
			continue
		}
		if reason := s.validate(trimmed); reason != "" {
			report.Invalid++
			continue
		}
		values = append(values, trimmed)
	}

	res, err := s.store.BulkImport(ctx, values, operatorID)
	if err != nil {
		return ImportReport{}, err
	}
	report.Inserted = res.Inserted
	report.Duplicates = res.Duplicates
	report.Invalid += res.Invalid

	s.log.Info("whitelist import finished",
		logx.Int("inserted", report.Inserted), logx.Int("duplicates", report.Duplicates),
		logx.Int("invalid", report.Invalid), logx.Int("parse_errors", report.ParseErrors),
		logx.Int64("operator", operatorID))
	return report, nil
}

// ExportCSV writes the full whitelist in ListEntries order: header row, then
// one normalized value per row. The output round-trips through ImportCSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.store.ExportAll(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{csvHeader}); err != nil {
		return 0, fmt.Errorf("whitelist: export: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Value}); err != nil {
			return 0, fmt.Errorf("whitelist: export: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("whitelist: export: %w", err)
	}
	return len(entries), nil
}
