package qservmgt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyRequestSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewNotifyRequest("n1", "worker1", srv.URL, "ADD_DATABASE", map[string]string{"database": "db1"}, srv.Client(), 5*time.Millisecond)
	require.NoError(t, r.Start(time.Second))
	r.Wait()
	require.Equal(t, ExtSuccess, r.ExtendedState())
}

func TestNotifyRequestRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewNotifyRequest("n2", "worker1", srv.URL, "ADD_DATABASE", nil, srv.Client(), time.Millisecond)
	require.NoError(t, r.Start(time.Second))
	r.Wait()
	require.Equal(t, ExtSuccess, r.ExtendedState())
	require.GreaterOrEqual(t, attempts, 3)
}

func TestNotifyRequestClientErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewNotifyRequest("n3", "worker1", srv.URL, "ADD_DATABASE", nil, srv.Client(), time.Millisecond)
	require.NoError(t, r.Start(time.Second))
	r.Wait()
	require.Equal(t, ExtClientError, r.ExtendedState())
	require.Equal(t, 1, attempts)
}

func TestStatusRequestDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := NewStatusRequest("s1", "worker1", srv.URL, srv.Client(), 5*time.Millisecond)
	require.NoError(t, r.Start(time.Second))
	r.Wait()
	require.Equal(t, ExtSuccess, r.ExtendedState())
	require.JSONEq(t, `{"ok":true}`, string(r.Result()))
}

func TestCancelStopsInFlightRequest(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	r := NewStatusRequest("s2", "worker1", srv.URL, srv.Client(), time.Millisecond)
	require.NoError(t, r.Start(time.Hour))
	r.Cancel()
	r.Wait()
	require.Equal(t, ExtCancelled, r.ExtendedState())
}
