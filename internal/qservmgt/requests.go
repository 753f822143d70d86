package qservmgt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NotifyRequest pushes a database/chunk registration change to a
// worker's embedded query service (the REGISTER/UNREGISTER/REBUILD
// family in section 4.8's worker-management table).
type NotifyRequest struct {
	*Base

	url     string
	payload interface{}
}

// NewNotifyRequest targets worker's query service at baseURL with one
// management operation (e.g. "ADD_DATABASE", "REMOVE_DATABASE",
// "REBUILD_INDEX"). payload is marshaled as the POST body.
func NewNotifyRequest(id, worker, baseURL, operation string, payload interface{}, client *http.Client, retryBase time.Duration) *NotifyRequest {
	r := &NotifyRequest{url: baseURL + "/qserv-mgt/" + operation, payload: payload}
	r.Base = NewBase(id, "NOTIFY:"+operation, worker, client, retryBase, nil, Hooks{Do: r.do})
	return r
}

func (r *NotifyRequest) do(ctx context.Context, client *http.Client) error {
	body, err := json.Marshal(r.payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("qservmgt: notify %s: server error %d", r.url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &nonRetryableError{fmt.Sprintf("qservmgt: notify %s: client error %d", r.url, resp.StatusCode)}
	}
	return nil
}

// StatusRequest polls a worker's embedded query service for its current
// health/status snapshot, decoding the JSON response into Result.
type StatusRequest struct {
	*Base

	url    string
	result json.RawMessage
}

func NewStatusRequest(id, worker, baseURL string, client *http.Client, retryBase time.Duration) *StatusRequest {
	r := &StatusRequest{url: baseURL + "/qserv-mgt/status"}
	r.Base = NewBase(id, "STATUS", worker, client, retryBase, nil, Hooks{Do: r.do})
	return r
}

func (r *StatusRequest) Result() json.RawMessage { return r.result }

func (r *StatusRequest) do(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("qservmgt: status %s: server error %d", r.url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &nonRetryableError{fmt.Sprintf("qservmgt: status %s: client error %d", r.url, resp.StatusCode)}
	}
	r.result = json.RawMessage(body)
	return nil
}

// nonRetryableError marks a Do failure that Base.run should not retry —
// client errors (4xx) reflect a malformed request, not a transient
// worker-side fault, so retrying would just repeat the same failure.
type nonRetryableError struct{ msg string }

func (e *nonRetryableError) Error() string { return e.msg }
