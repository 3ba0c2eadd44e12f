package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/pkg/types"
)

// reportPageSize is the page size used to walk a report's records
const reportPageSize = 1000

// Report types
const (
	ReportAuthentication = "authentication"
	ReportAuthorization  = "authorization"
	ReportDataAccess     = "data_access"
	ReportAdministrative = "administrative"
	ReportConfiguration  = "configuration"
	ReportSystem         = "system"
)

var reportCategories = map[string]types.Category{
	ReportAuthentication: types.CategoryAuthentication,
	ReportAuthorization:  types.CategoryAuthorization,
	ReportDataAccess:     types.CategoryDataAccess,
	ReportAdministrative: types.CategoryAdministrative,
	ReportConfiguration:  types.CategoryConfiguration,
	ReportSystem:         types.CategorySystem,
}

// ReportTypes returns the supported report types in name order
func ReportTypes() []string {
	out := make([]string, 0, len(reportCategories))
	for t := range reportCategories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReportOptions controls report generation
type ReportOptions struct {
	// IncludeDetails attaches the raw records
	IncludeDetails bool `json:"include_details"`
	// VerifyIntegrity re-verifies the hash of every record
	VerifyIntegrity bool `json:"verify_integrity"`
}

// CountEntry is one row of a grouped count
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ReportSummary holds the category specific counts of a report
type ReportSummary struct {
	TotalEvents int                     `json:"total_events"`
	Counts      map[string]int          `json:"counts"`
	Groups      map[string][]CountEntry `json:"groups"`
}

// ComplianceReport summarizes the events of one category over a period
type ComplianceReport struct {
	ReportType  string         `json:"report_type"`
	Category    types.Category `json:"category"`
	StartDate   time.Time      `json:"start_date"`
	EndDate     time.Time      `json:"end_date"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     ReportSummary  `json:"summary"`
	Verified    bool           `json:"integrity_verified,omitempty"`
	Records     []*Record      `json:"records,omitempty"`
}

// summarizer accumulates the summary of one report type
type summarizer interface {
	add(e *types.AuditEvent)
	summary() ReportSummary
}

func newSummarizer(reportType string) summarizer {
	switch reportType {
	case ReportAuthentication:
		return newAuthSummarizer()
	case ReportDataAccess:
		return newDataAccessSummarizer()
	default:
		return newGenericSummarizer()
	}
}

// counter counts keys and sorts them by count descending, key ascending
type counter map[string]int

func (c counter) inc(key string) {
	if key == "" {
		key = "unknown"
	}
	c[key]++
}

func (c counter) sorted() []CountEntry {
	out := make([]CountEntry, 0, len(c))
	for k, n := range c {
		out = append(out, CountEntry{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

type authSummarizer struct {
	total     int
	successes int
	failures  int
	logouts   int
	byIP      counter
	byActor   counter
}

func newAuthSummarizer() *authSummarizer {
	return &authSummarizer{byIP: counter{}, byActor: counter{}}
}

func (s *authSummarizer) add(e *types.AuditEvent) {
	s.total++
	action := strings.ToLower(e.Action)
	switch {
	case strings.Contains(action, "logout"):
		s.logouts++
	case !strings.Contains(action, "login"):
	case strings.Contains(action, "fail"), strings.Contains(action, "denied"), strings.Contains(action, "invalid"):
		s.failures++
	case action == "login", strings.Contains(action, "success"):
		s.successes++
	}
	s.byIP.inc(e.IPAddress)
	s.byActor.inc(e.ActorID)
}

func (s *authSummarizer) summary() ReportSummary {
	return ReportSummary{
		TotalEvents: s.total,
		Counts: map[string]int{
			"login_attempts":    s.successes + s.failures,
			"successful_logins": s.successes,
			"failed_logins":     s.failures,
			"logouts":           s.logouts,
		},
		Groups: map[string][]CountEntry{
			"by_ip":    s.byIP.sorted(),
			"by_actor": s.byActor.sorted(),
		},
	}
}

type dataAccessSummarizer struct {
	total        int
	ops          counter
	byActor      counter
	byResourceTy counter
}

func newDataAccessSummarizer() *dataAccessSummarizer {
	return &dataAccessSummarizer{ops: counter{}, byActor: counter{}, byResourceTy: counter{}}
}

// dataOperation maps an action to its CRUD bucket
func dataOperation(action string) string {
	action = strings.ToLower(action)
	switch {
	case strings.Contains(action, "read"), strings.Contains(action, "view"), strings.Contains(action, "list"), strings.Contains(action, "export"):
		return "reads"
	case strings.Contains(action, "create"), strings.Contains(action, "insert"):
		return "creates"
	case strings.Contains(action, "update"), strings.Contains(action, "modify"):
		return "updates"
	case strings.Contains(action, "delete"), strings.Contains(action, "remove"):
		return "deletes"
	default:
		return ""
	}
}

func (s *dataAccessSummarizer) add(e *types.AuditEvent) {
	s.total++
	if op := dataOperation(e.Action); op != "" {
		s.ops[op]++
	}
	s.byActor.inc(e.ActorID)
	s.byResourceTy.inc(e.TargetType)
}

func (s *dataAccessSummarizer) summary() ReportSummary {
	return ReportSummary{
		TotalEvents: s.total,
		Counts: map[string]int{
			"reads":   s.ops["reads"],
			"creates": s.ops["creates"],
			"updates": s.ops["updates"],
			"deletes": s.ops["deletes"],
		},
		Groups: map[string][]CountEntry{
			"by_actor":         s.byActor.sorted(),
			"by_resource_type": s.byResourceTy.sorted(),
		},
	}
}

type genericSummarizer struct {
	total      int
	byAction   counter
	bySeverity counter
	byActor    counter
}

func newGenericSummarizer() *genericSummarizer {
	return &genericSummarizer{byAction: counter{}, bySeverity: counter{}, byActor: counter{}}
}

func (s *genericSummarizer) add(e *types.AuditEvent) {
	s.total++
	s.byAction.inc(e.Action)
	s.bySeverity.inc(string(e.Severity))
	s.byActor.inc(e.ActorID)
}

func (s *genericSummarizer) summary() ReportSummary {
	return ReportSummary{
		TotalEvents: s.total,
		Counts:      map[string]int{},
		Groups: map[string][]CountEntry{
			"by_action":   s.byAction.sorted(),
			"by_severity": s.bySeverity.sorted(),
			"by_actor":    s.byActor.sorted(),
		},
	}
}

func reportCacheKey(reportType string, start, end time.Time) string {
	return fmt.Sprintf("report:%s:%d:%d", reportType, start.UnixNano(), end.UnixNano())
}

// GenerateComplianceReport summarizes the events of the report's category
// between start and end inclusive
func (s *Service) GenerateComplianceReport(ctx context.Context, reportType string, start, end time.Time, opts ReportOptions) (*ComplianceReport, error) {
	category, ok := reportCategories[reportType]
	if !ok {
		return nil, invalidArgument("unknown report type %q", reportType)
	}
	if start.IsZero() || end.IsZero() {
		return nil, invalidArgument("report period requires start and end dates")
	}
	if start.After(end) {
		return nil, invalidArgument("start date %s is after end date %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	cacheable := s.cache != nil && !opts.IncludeDetails && !opts.VerifyIntegrity
	key := reportCacheKey(reportType, start, end)
	var generation uint64
	if cacheable {
		if report, ok := s.cachedReport(ctx, key); ok {
			return report, nil
		}
		generation = s.deliverer.Generation(category)
	}

	report := &ComplianceReport{
		ReportType:  reportType,
		Category:    category,
		StartDate:   start.UTC(),
		EndDate:     end.UTC(),
		GeneratedAt: s.now().UTC(),
		Verified:    opts.VerifyIntegrity,
	}

	sum := newSummarizer(reportType)
	q := Query{Filter: SearchFilter{
		Categories: []types.Category{category},
		StartTime:  start,
		EndTime:    end,
	}}

	err := eachRecord(ctx, s.store, q, reportPageSize, func(rec *Record) error {
		if opts.VerifyIntegrity && !rec.Event.VerifyIntegrity() {
			s.metrics.RecordIntegrityViolation()
			return integrityViolation(rec.Event.EventID)
		}
		sum.add(rec.Event)
		if opts.IncludeDetails {
			report.Records = append(report.Records, rec)
		}
		return nil
	})
	if err != nil {
		if IsIntegrityViolation(err) {
			s.logger.Error("Integrity violation while generating report",
				zap.String("report_type", reportType),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, fmt.Errorf("generate %s report: %w", reportType, err)
	}

	report.Summary = sum.summary()
	s.metrics.RecordReport(reportType)

	if cacheable {
		s.cacheReport(ctx, key, category, generation, report)
	}
	return report, nil
}

func (s *Service) cachedReport(ctx context.Context, key string) (*ComplianceReport, bool) {
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var report ComplianceReport
	if err := json.Unmarshal(data, &report); err != nil {
		s.logger.Warn("Discarding unreadable cached report", zap.String("key", key), zap.Error(err))
		s.cache.Delete(ctx, key)
		return nil, false
	}
	return &report, true
}

// cacheReport stores a report built while the category was at generation.
// A report that raced an invalidation is not cached, or is removed again
// when the invalidation landed during the write.
func (s *Service) cacheReport(ctx context.Context, key string, category types.Category, generation uint64, report *ComplianceReport) {
	stale := func() bool { return s.deliverer.Generation(category) != generation }
	if stale() {
		s.logger.Debug("Skipping cache of report built during a write", zap.String("key", key))
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		s.logger.Warn("Failed to encode report for caching", zap.Error(err))
		return
	}

	if tc, ok := s.cache.(cache.TaggableCache); ok {
		tc.SetWithTags(ctx, key, data, CategoryTag(category))
	} else {
		s.cache.Set(ctx, key, data)
	}

	if stale() {
		s.cache.Delete(ctx, key)
	}
}
