package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/internal/export"
	"github.com/glueful/audit-engine/pkg/types"
)

// ActionRetentionEnforced is recorded after a manual retention run
const ActionRetentionEnforced = "retention_enforced"

// maxIngestBody bounds an ingest request body
const maxIngestBody = 1 << 20

// defaultReportPeriod is used when a report request names no start date
const defaultReportPeriod = 30 * 24 * time.Hour

// ingestHandler accepts an event from a client
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	category := types.Category(strings.ToLower(strings.TrimSpace(req.Category)))
	if category == "" {
		WriteError(w, http.StatusBadRequest, "category is required", nil)
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		WriteError(w, http.StatusBadRequest, "action is required", nil)
		return
	}

	severity := types.SeverityInfo
	if req.Severity != "" {
		sev, err := types.ParseSeverity(req.Severity)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		severity = sev
	}

	ctx := r.Context()
	event := types.NewAuditEvent(ctx, category, req.Action, severity, req.Details)

	actorID := req.ActorID
	if actorID == "" {
		if claims, ok := ClaimsFromContext(ctx); ok {
			actorID = claims.Subject
		}
	}
	if actorID != "" {
		event.SetActor(actorID)
	}
	if req.TargetID != "" || req.TargetType != "" {
		event.SetTarget(req.TargetID, req.TargetType)
	}
	if req.SessionID != "" {
		event.SetSession(req.SessionID)
	}
	if req.RelatedEventID != "" {
		event.SetRelatedEvent(req.RelatedEventID)
	}

	id := s.audit.Record(ctx, event)
	WriteJSON(w, http.StatusAccepted, IngestResponse{
		EventID:    id,
		Suppressed: id == "",
	})
}

// searchHandler returns a page of records, newest first
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	page, err := intParam(q, "page")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	perPage, err := intParam(q, "per_page")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := s.audit.SearchAuditLogs(r.Context(), filter, page, perPage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// exportHandler streams every matching record as NDJSON, oldest first
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := filter.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	verify, err := boolParam(q, "verify")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.ndjson"`)

	out := export.NewNDJSONWriter(w, verify)
	err = s.audit.ExportAuditLogs(r.Context(), filter, out.Write)
	if err == nil {
		return
	}

	if out.Count() == 0 {
		s.writeServiceError(w, r, err)
		return
	}
	// The status line is already sent, so the stream is cut short
	s.logger.Error("Export aborted",
		zap.Int("written", out.Count()),
		zap.Error(err),
	)
}

// reportTypesHandler lists the supported report types
func (s *Server) reportTypesHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ReportTypesResponse{ReportTypes: audit.ReportTypes()})
}

// reportHandler generates a compliance report. The period defaults to the
// last 30 days.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	reportType := mux.Vars(r)["type"]
	q := r.URL.Query()

	end, err := timeParam(q, "end")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start, err := timeParam(q, "start")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if start.IsZero() {
		start = end.Add(-defaultReportPeriod)
	}

	var opts audit.ReportOptions
	if opts.IncludeDetails, err = boolParam(q, "include_details"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if opts.VerifyIntegrity, err = boolParam(q, "verify"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	report, err := s.audit.GenerateComplianceReport(r.Context(), reportType, start, end, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// retentionHandler runs the retention policy immediately
func (s *Server) retentionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	purged, err := s.audit.EnforceRetentionPolicy(ctx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var actorID string
	if claims, ok := ClaimsFromContext(ctx); ok {
		actorID = claims.Subject
	}
	s.audit.AdminEvent(ctx, ActionRetentionEnforced, actorID, map[string]interface{}{
		"purged": purged,
	}, types.SeverityInfo)

	WriteJSON(w, http.StatusOK, RetentionResponse{Purged: purged})
}

// parseFilter reads a search filter from query parameters. category and
// severity accept comma separated lists.
func parseFilter(q url.Values) (audit.SearchFilter, error) {
	f := audit.SearchFilter{
		Action:          q.Get("action"),
		ActorID:         q.Get("actor_id"),
		TargetID:        q.Get("target_id"),
		TargetType:      q.Get("target_type"),
		IPAddress:       q.Get("ip_address"),
		SessionID:       q.Get("session_id"),
		DetailsContains: q.Get("q"),
	}

	for _, c := range splitList(q.Get("category")) {
		f.Categories = append(f.Categories, types.Category(strings.ToLower(c)))
	}
	for _, v := range splitList(q.Get("severity")) {
		sev, err := types.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.Severities = append(f.Severities, sev)
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := types.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}

	var err error
	if f.StartTime, err = timeParam(q, "start"); err != nil {
		return f, err
	}
	if f.EndTime, err = timeParam(q, "end"); err != nil {
		return f, err
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func timeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t.UTC(), nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}
