package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glueful/audit-engine/pkg/types"
)

const (
	// DefaultPerPage is the page size when none is requested
	DefaultPerPage = 50

	// MaxPerPage caps the page size
	MaxPerPage = 500

	// MaxDetailsSearchLength caps the details substring predicate
	MaxDetailsSearchLength = 128
)

// SearchFilter selects audit records. Zero values are ignored.
type SearchFilter struct {
	Categories []types.Category `json:"categories,omitempty"`
	Action     string           `json:"action,omitempty"`
	Severities []types.Severity `json:"severities,omitempty"`
	// MinSeverity keeps records at or above the level
	MinSeverity types.Severity `json:"min_severity,omitempty"`

	ActorID    string `json:"actor_id,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	// DetailsContains is a literal substring matched against the
	// serialized details
	DetailsContains string `json:"details_contains,omitempty"`
}

// Validate rejects malformed filters
func (f SearchFilter) Validate() error {
	for _, s := range f.Severities {
		if !s.Valid() {
			return invalidArgument("unknown severity %q", s)
		}
	}
	if f.MinSeverity != "" && !f.MinSeverity.Valid() {
		return invalidArgument("unknown severity %q", f.MinSeverity)
	}
	for _, c := range f.Categories {
		if c == "" {
			return invalidArgument("empty category")
		}
	}
	if !f.StartTime.IsZero() && !f.EndTime.IsZero() && f.StartTime.After(f.EndTime) {
		return invalidArgument("start time %s is after end time %s",
			f.StartTime.Format(time.RFC3339), f.EndTime.Format(time.RFC3339))
	}
	if len(f.DetailsContains) > MaxDetailsSearchLength {
		return invalidArgument("details search exceeds %d characters", MaxDetailsSearchLength)
	}
	return nil
}

// EffectiveSeverities merges Severities and MinSeverity into the set of
// levels to match. A nil result means any severity; an empty non-nil
// result matches nothing.
func (f SearchFilter) EffectiveSeverities() []types.Severity {
	if f.MinSeverity == "" {
		return f.Severities
	}

	var atLeast []types.Severity
	for _, s := range types.Severities {
		if s.AtLeast(f.MinSeverity) {
			atLeast = append(atLeast, s)
		}
	}
	if len(f.Severities) == 0 {
		return atLeast
	}

	out := []types.Severity{}
	for _, s := range f.Severities {
		if s.AtLeast(f.MinSeverity) {
			out = append(out, s)
		}
	}
	return out
}

// likePattern returns a LIKE pattern matching s literally anywhere,
// escaped with backslash
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// Pagination describes a page of search results
type Pagination struct {
	Total       int `json:"total"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	From        int `json:"from"`
	To          int `json:"to"`
}

// SearchResult is a page of records, newest first
type SearchResult struct {
	Data       []*Record  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func newPagination(total, page, perPage, count int) Pagination {
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	p := Pagination{
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    lastPage,
	}
	if count > 0 {
		p.From = (page-1)*perPage + 1
		p.To = p.From + count - 1
	}
	return p
}

// SearchAuditLogs returns a page of records matching the filter
func (s *Service) SearchAuditLogs(ctx context.Context, filter SearchFilter, page, perPage int) (*SearchResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)

	recs, total, err := s.store.Search(ctx, &Query{
		Filter: filter,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("search audit logs: %w", err)
	}
	if recs == nil {
		recs = []*Record{}
	}

	return &SearchResult{
		Data:       recs,
		Pagination: newPagination(total, page, perPage, len(recs)),
	}, nil
}

// eachRecord walks every record matching q in pages, oldest first
func eachRecord(ctx context.Context, store Store, q Query, pageSize int, fn func(*Record) error) error {
	q.Ascending = true
	q.Limit = pageSize
	q.Offset = 0

	for {
		recs, _, err := store.Search(ctx, &q)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(recs) < pageSize {
			return nil
		}
		q.Offset += len(recs)
	}
}

// ExportAuditLogs walks every record matching the filter oldest first.
// Walking stops at the first error returned by fn.
func (s *Service) ExportAuditLogs(ctx context.Context, filter SearchFilter, fn func(*Record) error) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	return eachRecord(ctx, s.store, Query{Filter: filter}, reportPageSize, fn)
}
