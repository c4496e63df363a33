// Package whitelist owns the input policy for whitelist values and
// orchestrates the store: check, add, remove, list, CSV import/export.
package whitelist

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"megabuddies/internal/store"
	logx "megabuddies/pkg/logx"
)

type Config struct {
	PageSizeMax int // clamp for List (default 50)
	ValueMaxLen int // max runes after trim (default 128)
}

type Service struct {
	cfg   Config
	store *store.Store
	log   logx.Logger
}

func New(cfg Config, st *store.Store, log logx.Logger) *Service {
	if cfg.PageSizeMax <= 0 {
		cfg.PageSizeMax = 50
	}
	if cfg.ValueMaxLen <= 0 {
		cfg.ValueMaxLen = 128
	}
	return &Service{cfg: cfg, store: st, log: log}
}

type CheckStatus int

const (
	CheckInvalid CheckStatus = iota
	CheckPresent
	CheckAbsent
)

type CheckResult struct {
	Status CheckStatus
	Reason string // set for CheckInvalid
}

// Check classifies a raw value and records the attempt exactly once: an
// invalid value still counts as a check, but bumps neither hits nor misses.
func (s *Service) Check(ctx context.Context, userID int64, raw string) (CheckResult, error) {
	if reason := s.validate(raw); reason != "" {
		if err := s.store.RecordCheck(ctx, userID, store.CheckInvalid); err != nil {
			return CheckResult{}, err
		}
		return CheckResult{Status: CheckInvalid, Reason: reason}, nil
	}

	present, err := s.store.Contains(ctx, raw)
	if err != nil {
		return CheckResult{}, err
	}
	outcome := store.CheckMiss
	status := CheckAbsent
	if present {
		outcome = store.CheckHit
		status = CheckPresent
	}
	if err := s.store.RecordCheck(ctx, userID, outcome); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Status: status}, nil
}

type AddStatus int

const (
	AddInvalid AddStatus = iota
	Added
	AlreadyPresent
)

type AddResult struct {
	Status AddStatus
	Value  string // normalized form
	Reason string // set for AddInvalid
}

func (s *Service) Add(ctx context.Context, operatorID int64, raw string) (AddResult, error) {
	if reason := s.validate(raw); reason != "" {
		return AddResult{Status: AddInvalid, Reason: reason}, nil
	}
	v := store.Normalize(raw)
	st, err := s.store.AddEntry(ctx, raw, operatorID)
	if err != nil {
		return AddResult{}, err
	}
	if st == store.AlreadyPresent {
		return AddResult{Status: AlreadyPresent, Value: v}, nil
	}
	s.log.Info("whitelist entry added", logx.String("value", v), logx.Int64("operator", operatorID))
	return AddResult{Status: Added, Value: v}, nil
}

type RemoveStatus int

const (
	RemoveInvalid RemoveStatus = iota
	Removed
	NotFound
)

type RemoveResult struct {
	Status RemoveStatus
	Value  string
	Reason string
}

func (s *Service) Remove(ctx context.Context, raw string) (RemoveResult, error) {
	if reason := s.validate(raw); reason != "" {
		return RemoveResult{Status: RemoveInvalid, Reason: reason}, nil
	}
	v := store.Normalize(raw)
	removed, err := s.store.RemoveEntry(ctx, raw)
	if err != nil {
		return RemoveResult{}, err
	}
	if !removed {
		return RemoveResult{Status: NotFound, Value: v}, nil
	}
	s.log.Info("whitelist entry removed", logx.String("value", v))
	return RemoveResult{Status: Removed, Value: v}, nil
}

type Page struct {
	Entries  []store.Entry
	Page     int // 1-based
	PageSize int
	Total    int64
}

// List returns one page of entries in stable order plus the total count.
// pageSize is clamped to PageSizeMax so responses stay bounded.
func (s *Service) List(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > s.cfg.PageSizeMax {
		pageSize = s.cfg.PageSizeMax
	}

	total, err := s.store.CountEntries(ctx)
	if err != nil {
		return Page{}, err
	}
	entries, err := s.store.ListEntries(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Page: page, PageSize: pageSize, Total: total}, nil
}

// validate returns an empty string for acceptable input, else the reason.
// This is the single definition of what a valid whitelist value is.
func (s *Service) validate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "value is empty"
	}
	if utf8.RuneCountInString(trimmed) > s.cfg.ValueMaxLen {
		return "value is too long"
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "value contains control characters"
		}
	}
	return ""
}
