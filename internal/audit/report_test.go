package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/pkg/types"
)

var (
	reportStart = baseTime.Add(-time.Hour)
	reportEnd   = baseTime.Add(time.Hour)
)

func seedAuthEvents(t *testing.T, store Store) {
	t.Helper()
	var events []*types.AuditEvent
	add := func(action, actor, ip string, n int) {
		for i := 0; i < n; i++ {
			e := eventAt(types.CategoryAuthentication, action, baseTime.Add(time.Duration(len(events))*time.Second))
			e.SetActor(actor).SetNetworkInfo(ip, "test-agent")
			events = append(events, e)
		}
	}
	add("login_success", "alice", "10.0.0.1", 4)
	add("login_success", "bob", "10.0.0.2", 2)
	add("login_failure", "mallory", "10.0.0.3", 3)
	add("logout", "alice", "10.0.0.1", 1)

	// Outside the report period
	outside := eventAt(types.CategoryAuthentication, "login_success", baseTime.Add(-2*time.Hour))
	// Other category inside the period
	other := eventAt(types.CategorySystem, "boot", baseTime)

	seedStore(t, store, append(events, outside, other)...)
}

func TestGenerateComplianceReport_Authentication(t *testing.T) {
	store := newSQLiteTestStore(t)
	seedAuthEvents(t, store)
	svc, m := newTestService(t, DefaultSettings(), Deps{Store: store})

	report, err := svc.GenerateComplianceReport(context.Background(), ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.CategoryAuthentication, report.Category)
	assert.Equal(t, 10, report.Summary.TotalEvents)
	assert.Equal(t, 6, report.Summary.Counts["successful_logins"])
	assert.Equal(t, 3, report.Summary.Counts["failed_logins"])
	assert.Equal(t, 1, report.Summary.Counts["logouts"])
	assert.Equal(t, 9, report.Summary.Counts["login_attempts"])
	assert.Empty(t, report.Records)

	assert.Equal(t, []CountEntry{
		{Key: "10.0.0.1", Count: 5},
		{Key: "10.0.0.3", Count: 3},
		{Key: "10.0.0.2", Count: 2},
	}, report.Summary.Groups["by_ip"])
	assert.Equal(t, []CountEntry{
		{Key: "alice", Count: 5},
		{Key: "mallory", Count: 3},
		{Key: "bob", Count: 2},
	}, report.Summary.Groups["by_actor"])
	assert.Equal(t, 1, m.Count("reports", ""))
}

func TestGenerateComplianceReport_DataAccess(t *testing.T) {
	store := newSQLiteTestStore(t)
	var events []*types.AuditEvent
	for i, a := range []struct{ action, actor, resource string }{
		{"read", "alice", "invoice"},
		{"read", "alice", "invoice"},
		{"view", "bob", "customer"},
		{"create", "alice", "invoice"},
		{"update", "bob", "customer"},
		{"delete", "carol", "customer"},
		{"reindex", "carol", "customer"},
	} {
		e := eventAt(types.CategoryDataAccess, a.action, baseTime.Add(time.Duration(i)*time.Second))
		e.SetActor(a.actor).SetTarget(fmt.Sprint(i), a.resource)
		events = append(events, e)
	}
	seedStore(t, store, events...)
	svc, _ := newTestService(t, DefaultSettings(), Deps{Store: store})

	report, err := svc.GenerateComplianceReport(context.Background(), ReportDataAccess, reportStart, reportEnd, ReportOptions{IncludeDetails: true})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"reads": 3, "creates": 1, "updates": 1, "deletes": 1}, report.Summary.Counts)
	assert.Equal(t, 7, report.Summary.TotalEvents)
	assert.Equal(t, []CountEntry{{Key: "customer", Count: 4}, {Key: "invoice", Count: 3}}, report.Summary.Groups["by_resource_type"])
	assert.Equal(t, []CountEntry{{Key: "alice", Count: 3}, {Key: "bob", Count: 2}, {Key: "carol", Count: 2}}, report.Summary.Groups["by_actor"])
	require.Len(t, report.Records, 7)
	assert.Equal(t, events[0].EventID, report.Records[0].Event.EventID, "records are oldest first")
}

func TestGenerateComplianceReport_Generic(t *testing.T) {
	store := newSQLiteTestStore(t)
	a := eventAt(types.CategoryConfiguration, "setting_changed", baseTime)
	b := eventAt(types.CategoryConfiguration, "setting_changed", baseTime.Add(time.Second))
	b.SetActor("root")
	c := eventAt(types.CategoryConfiguration, "feature_toggled", baseTime.Add(2*time.Second))
	seedStore(t, store, a, b, c)
	svc, _ := newTestService(t, DefaultSettings(), Deps{Store: store})

	report, err := svc.GenerateComplianceReport(context.Background(), ReportConfiguration, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)

	assert.Equal(t, []CountEntry{{Key: "setting_changed", Count: 2}, {Key: "feature_toggled", Count: 1}}, report.Summary.Groups["by_action"])
	assert.Equal(t, []CountEntry{{Key: "info", Count: 3}}, report.Summary.Groups["by_severity"])
	assert.Equal(t, []CountEntry{{Key: "unknown", Count: 2}, {Key: "root", Count: 1}}, report.Summary.Groups["by_actor"])
}

func TestGenerateComplianceReport_InvalidArguments(t *testing.T) {
	svc, _ := newTestService(t, DefaultSettings(), Deps{})
	ctx := context.Background()

	_, err := svc.GenerateComplianceReport(ctx, "gdpr", reportStart, reportEnd, ReportOptions{})
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.GenerateComplianceReport(ctx, ReportSystem, reportEnd, reportStart, ReportOptions{})
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.GenerateComplianceReport(ctx, ReportSystem, time.Time{}, reportEnd, ReportOptions{})
	assert.True(t, IsInvalidArgument(err))
}

func TestGenerateComplianceReport_VerifyIntegrity(t *testing.T) {
	store := newSQLiteTestStore(t)
	good := eventAt(types.CategorySystem, "boot", baseTime)
	tampered := eventAt(types.CategorySystem, "shutdown", baseTime.Add(time.Second))
	tampered.Action = "nothing_to_see"
	seedStore(t, store, good, tampered)

	svc, m := newTestService(t, DefaultSettings(), Deps{Store: store})

	_, err := svc.GenerateComplianceReport(context.Background(), ReportSystem, reportStart, reportEnd, ReportOptions{VerifyIntegrity: true})
	require.Error(t, err)
	assert.True(t, IsIntegrityViolation(err))
	assert.Contains(t, err.Error(), tampered.EventID)
	assert.Equal(t, 1, m.Count("violations", ""))

	// Without verification the report is still produced
	report, err := svc.GenerateComplianceReport(context.Background(), ReportSystem, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.TotalEvents)
}

func TestGenerateComplianceReport_Cached(t *testing.T) {
	store := newSQLiteTestStore(t)
	seedStore(t, store, eventAt(types.CategoryAuthentication, "login_success", baseTime))

	lru := cache.NewLRU(16, time.Hour)
	svc, m := newTestService(t, DefaultSettings(), Deps{Store: store, Cache: lru})
	ctx := context.Background()

	first, err := svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Summary.Counts["successful_logins"])

	// Written behind the service's back: the cached report is served
	seedStore(t, store, eventAt(types.CategoryAuthentication, "login_success", baseTime.Add(time.Second)))
	cached, err := svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Summary.Counts["successful_logins"])
	assert.Equal(t, 1, m.Count("reports", ""))

	// A write through the pipeline invalidates the category's reports
	e := eventAt(types.CategoryAuthentication, "login_success", baseTime.Add(2*time.Second))
	require.NotEmpty(t, svc.Record(ctx, e))

	fresh, err := svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Summary.Counts["successful_logins"])
	assert.Equal(t, 2, m.Count("reports", ""))
}

// writeDuringSearch runs write once, after the first page has been read
type writeDuringSearch struct {
	Store
	once  sync.Once
	write func()
}

func (s *writeDuringSearch) Search(ctx context.Context, q *Query) ([]*Record, int, error) {
	recs, total, err := s.Store.Search(ctx, q)
	s.once.Do(s.write)
	return recs, total, err
}

func TestGenerateComplianceReport_NotCachedAcrossConcurrentWrite(t *testing.T) {
	base := newSQLiteTestStore(t)
	seedStore(t, base, eventAt(types.CategoryAuthentication, "login_success", baseTime))

	store := &writeDuringSearch{Store: base}
	lru := cache.NewLRU(16, time.Hour)
	svc, m := newTestService(t, DefaultSettings(), Deps{Store: store, Cache: lru})
	ctx := context.Background()

	store.write = func() {
		e := eventAt(types.CategoryAuthentication, "login_success", baseTime.Add(time.Second))
		require.NotEmpty(t, svc.Record(ctx, e))
	}

	_, err := svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)

	// The write landed mid-walk, so the next request rebuilds the report
	fresh, err := svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Summary.Counts["successful_logins"])
	assert.Equal(t, 2, m.Count("reports", ""))

	// Nothing raced the second build, so it is served from cache
	_, err = svc.GenerateComplianceReport(ctx, ReportAuthentication, reportStart, reportEnd, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count("reports", ""))
}

func TestReportTypes(t *testing.T) {
	assert.Equal(t, []string{
		ReportAdministrative,
		ReportAuthentication,
		ReportAuthorization,
		ReportConfiguration,
		ReportDataAccess,
		ReportSystem,
	}, ReportTypes())
}
