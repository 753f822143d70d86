package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/ingest"
)

var validate = validator.New()

// createContribRequest is the wire shape from section 6: contribution
// creation parameters. Empty dialect/charset values take the documented
// defaults; max_retries is clamped to worker.ingest-max-retries.
type createContribRequest struct {
	Database      string            `json:"database" validate:"required"`
	TransactionID uint32            `json:"transaction_id" validate:"required"`
	Table         string            `json:"table" validate:"required"`
	Chunk         uint32            `json:"chunk"`
	Overlap       bool              `json:"overlap"`
	URL           string            `json:"url" validate:"required"`
	CharsetName   string            `json:"charset_name"`

	FieldsTerminatedBy string `json:"fields_terminated_by"`
	FieldsEnclosedBy   string `json:"fields_enclosed_by"`
	FieldsEscapedBy    string `json:"fields_escaped_by"`
	LinesTerminatedBy  string `json:"lines_terminated_by"`

	HTTPMethod  string            `json:"http_method"`
	HTTPData    string            `json:"http_data"`
	HTTPHeaders map[string]string `json:"http_headers"`

	MaxNumWarnings int `json:"max_num_warnings"`
	MaxRetries     int `json:"max_retries"`
}

// IngestHandlers implements the contribution create/status/cancel
// endpoints, wiring internal/ingest's queue-of-queues and
// internal/dbsvc's crash-recovery persistence.
type IngestHandlers struct {
	Manager        *ingest.Manager
	Pool           *dbsvc.Pool
	DefaultCharset string
	MaxRetriesCap  int
	SyncTimeout    time.Duration
	Log            *zap.Logger
}

func (h *IngestHandlers) build(req createContribRequest) *ingest.TransactionContribInfo {
	dialect := ingest.DefaultDialect
	if req.FieldsTerminatedBy != "" {
		dialect.FieldsTerminatedBy = req.FieldsTerminatedBy
	}
	if req.FieldsEnclosedBy != "" {
		dialect.FieldsEnclosedBy = req.FieldsEnclosedBy
	}
	if req.FieldsEscapedBy != "" {
		dialect.FieldsEscapedBy = req.FieldsEscapedBy
	}
	if req.LinesTerminatedBy != "" {
		dialect.LinesTerminatedBy = req.LinesTerminatedBy
	}
	charset := req.CharsetName
	if charset == "" {
		charset = h.DefaultCharset
	}
	maxRetries := req.MaxRetries
	if maxRetries > h.MaxRetriesCap {
		maxRetries = h.MaxRetriesCap
	}

	return &ingest.TransactionContribInfo{
		ID:             uuid.NewString(),
		TransactionID:  req.TransactionID,
		Database:       req.Database,
		Table:          req.Table,
		Chunk:          req.Chunk,
		Overlap:        req.Overlap,
		URL:            req.URL,
		CharsetName:    charset,
		Dialect:        dialect,
		HTTPMethod:     req.HTTPMethod,
		HTTPData:       req.HTTPData,
		HTTPHeaders:    req.HTTPHeaders,
		MaxNumWarnings: req.MaxNumWarnings,
		MaxRetries:     maxRetries,
		RetryAllowed:   maxRetries > 0,
		CreateTimeMs:   time.Now().UnixMilli(),
		Status:         ingest.StatusQueued,
	}
}

func (h *IngestHandlers) decode(w http.ResponseWriter, r *http.Request) (createContribRequest, bool) {
	var req createContribRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return req, false
	}
	return req, true
}

// CreateSync creates a contribution and blocks until it reaches a
// terminal state, per section 6's sync endpoint.
func (h *IngestHandlers) CreateSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	info := h.build(req)
	if err := h.Pool.SaveContribution(r.Context(), info.Database, info.ID, info); err != nil {
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.SyncTimeout)
	defer cancel()
	if err := h.Manager.SubmitSync(ctx, info); err != nil {
		writeJSON(w, http.StatusAccepted, info)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CreateAsync creates a contribution and returns its id immediately.
func (h *IngestHandlers) CreateAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	info := h.build(req)
	if err := h.Pool.SaveContribution(r.Context(), info.Database, info.ID, info); err != nil {
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", err.Error())
		return
	}
	h.Manager.Submit(info)
	writeJSON(w, http.StatusAccepted, struct {
		ID string `json:"id"`
	}{ID: info.ID})
}

// Status returns a TransactionContribInfo-shaped JSON for id, checking
// the live manager first and falling back to the persisted record.
func (h *IngestHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if info, ok := h.Manager.Get(id); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}
	var info ingest.TransactionContribInfo
	if err := h.Pool.LoadContribution(r.Context(), id, &info); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Cancel cancels a queued or in-progress contribution. A contribution that
// is no longer queued or in progress is not cancelled; its persisted status
// is returned as it is, and an id with no persisted record gets 404.
func (h *IngestHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := h.Manager.Cancel(id)
	if err != nil {
		var info ingest.TransactionContribInfo
		if lerr := h.Pool.LoadContribution(r.Context(), id, &info); lerr == nil {
			status = info.Status
		} else {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, struct {
		ID     string        `json:"id"`
		Status ingest.Status `json:"status"`
	}{ID: id, Status: status})
}
