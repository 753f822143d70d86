package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/ingest"
)

func newTestIngestHandlers(t *testing.T) (*IngestHandlers, *ingest.Manager, *dbsvc.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	pool, err := dbsvc.New(mr.Addr(), "", 0, 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, pool.RegisterDatabase(context.Background(), "db1"))

	mgr := ingest.NewManager(4)
	h := &IngestHandlers{
		Manager:        mgr,
		Pool:           pool,
		DefaultCharset: "utf8",
		MaxRetriesCap:  3,
		SyncTimeout:    50 * time.Millisecond,
		Log:            zap.NewNop(),
	}
	return h, mgr, pool
}

func TestCreateAsyncThenStatus(t *testing.T) {
	h, _, _ := newTestIngestHandlers(t)
	srv := NewServer(Config{AdminToken: ""}, h, nil, nil, zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{
		"database":       "db1",
		"transaction_id": 7,
		"table":          "t1",
		"chunk":          3,
		"url":            "http://example/data.csv",
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/contrib/async", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	statusReq := httptest.NewRequest(http.MethodGet, "/ingest/v1/contrib/"+created.ID, nil)
	statusRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var info ingest.TransactionContribInfo
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &info))
	require.Equal(t, ingest.StatusQueued, info.Status)
	require.Equal(t, ",", info.Dialect.FieldsTerminatedBy)
}

func TestCreateAsyncRejectsMissingRequiredField(t *testing.T) {
	h, _, _ := newTestIngestHandlers(t)
	srv := NewServer(Config{}, h, nil, nil, zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{"database": "db1"})
	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/contrib/async", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelQueuedContribution(t *testing.T) {
	h, _, _ := newTestIngestHandlers(t)
	srv := NewServer(Config{}, h, nil, nil, zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{
		"database": "db1", "transaction_id": 1, "table": "t1", "url": "http://x/y.csv",
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/contrib/async", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	cancelReq := httptest.NewRequest(http.MethodDelete, "/ingest/v1/contrib/"+created.ID, nil)
	cancelRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	var result struct {
		Status ingest.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &result))
	require.Equal(t, ingest.StatusCancelled, result.Status)
}

func TestHealthEndpointReportsRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	pool, err := dbsvc.New(mr.Addr(), "", 0, 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	srv := NewServer(Config{}, nil, nil, &HealthHandlers{Pool: pool}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
