package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/realip"

	"github.com/modelibr/e2e/app/enum"
)

const (
	auditCapacity = 5000
	auditMaxLimit = 1000
)

// AuditEntry records one API request the fake served.
type AuditEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Method    string           `json:"method"`
	Path      string           `json:"path"`
	Action    enum.AuditAction `json:"action"`
	Result    enum.AuditResult `json:"result"`
	Status    int              `json:"status"`
	Size      int              `json:"size"`
	IP        string           `json:"ip,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// auditQuery filters the audit log. Zero fields match everything.
type auditQuery struct {
	Path   string // prefix match with * suffix, exact otherwise
	Action enum.AuditAction
	Result enum.AuditResult
	From   time.Time
	To     time.Time
	Limit  int
}

func (q auditQuery) match(e AuditEntry) bool {
	switch {
	case q.Path != "" && strings.HasSuffix(q.Path, "*") && !strings.HasPrefix(e.Path, strings.TrimSuffix(q.Path, "*")):
		return false
	case q.Path != "" && !strings.HasSuffix(q.Path, "*") && e.Path != q.Path:
		return false
	case q.Action != "" && e.Action != q.Action:
		return false
	case q.Result != "" && e.Result != q.Result:
		return false
	case !q.From.IsZero() && e.Timestamp.Before(q.From):
		return false
	case !q.To.IsZero() && e.Timestamp.After(q.To):
		return false
	}
	return true
}

// auditLog keeps the latest requests in memory, oldest dropped first.
type auditLog struct {
	mu       sync.Mutex
	entries  []AuditEntry
	capacity int
}

func newAuditLog(capacity int) *auditLog {
	return &auditLog{capacity: capacity}
}

func (a *auditLog) add(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) >= a.capacity {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, e)
}

// query returns matching entries newest first, up to q.Limit, and the number of matches.
func (a *auditLog) query(q auditQuery) ([]AuditEntry, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := []AuditEntry{}
	total := 0
	for i := len(a.entries) - 1; i >= 0; i-- {
		if !q.match(a.entries[i]) {
			continue
		}
		total++
		if len(res) < q.Limit {
			res = append(res, a.entries[i])
		}
	}
	return res, total
}

// responseCapture wraps http.ResponseWriter to capture status code and bytes written.
type responseCapture struct {
	http.ResponseWriter
	status       int
	bytesWritten int
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{ResponseWriter: w, status: http.StatusOK}
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(b)
	rc.bytesWritten += n
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Unwrap returns the underlying ResponseWriter (for http.ResponseController).
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// auditMiddleware records every API request after the handler completes.
// The audit query itself is not recorded.
func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/audit/query" {
			next.ServeHTTP(w, r)
			return
		}
		rc := newResponseCapture(w)
		next.ServeHTTP(rc, r)

		ip, _ := realip.Get(r)
		s.audit.add(AuditEntry{
			Timestamp: time.Now(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Action:    auditAction(r.Method),
			Result:    auditResult(rc.status),
			Status:    rc.status,
			Size:      rc.bytesWritten,
			IP:        ip,
			RequestID: r.Header.Get("X-Request-ID"),
		})
	})
}

func auditAction(method string) enum.AuditAction {
	switch method {
	case http.MethodPost:
		return enum.AuditActionCreate
	case http.MethodPut, http.MethodPatch:
		return enum.AuditActionUpdate
	case http.MethodDelete:
		return enum.AuditActionDelete
	default:
		return enum.AuditActionRead
	}
}

func auditResult(status int) enum.AuditResult {
	switch {
	case status >= 200 && status < 300:
		return enum.AuditResultSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return enum.AuditResultDenied
	case status == http.StatusNotFound:
		return enum.AuditResultNotFound
	case status == http.StatusConflict:
		return enum.AuditResultConflict
	case status >= 400 && status < 500:
		return enum.AuditResultInvalid
	default:
		return enum.AuditResultError
	}
}

// auditQueryRequest is the JSON body of POST /audit/query.
type auditQueryRequest struct {
	Path   string `json:"path,omitempty"`   // prefix match with * suffix
	Action string `json:"action,omitempty"` // read, create, update, delete
	Result string `json:"result,omitempty"` // success, denied, not_found, conflict, invalid, error
	From   string `json:"from,omitempty"`   // RFC3339 timestamp
	To     string `json:"to,omitempty"`     // RFC3339 timestamp
	Limit  int    `json:"limit,omitempty"`
}

type auditQueryResponse struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
}

// handleAuditQuery handles POST /audit/query.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	var req auditQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}
	q, err := buildAuditQuery(req)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid query parameters")
		return
	}
	entries, total := s.audit.query(q)
	rest.RenderJSON(w, auditQueryResponse{Entries: entries, Total: total, Limit: q.Limit})
}

func buildAuditQuery(req auditQueryRequest) (auditQuery, error) {
	q := auditQuery{Path: req.Path, Limit: req.Limit}
	if q.Limit <= 0 || q.Limit > auditMaxLimit {
		q.Limit = auditMaxLimit
	}

	var err error
	if req.Action != "" {
		if q.Action, err = enum.ParseAuditAction(req.Action); err != nil {
			return auditQuery{}, fmt.Errorf("invalid action: %w", err)
		}
	}
	if req.Result != "" {
		if q.Result, err = enum.ParseAuditResult(req.Result); err != nil {
			return auditQuery{}, fmt.Errorf("invalid result: %w", err)
		}
	}
	if req.From != "" {
		if q.From, err = time.Parse(time.RFC3339, req.From); err != nil {
			return auditQuery{}, fmt.Errorf("invalid from timestamp: %w", err)
		}
	}
	if req.To != "" {
		if q.To, err = time.Parse(time.RFC3339, req.To); err != nil {
			return auditQuery{}, fmt.Errorf("invalid to timestamp: %w", err)
		}
	}
	return q, nil
}
