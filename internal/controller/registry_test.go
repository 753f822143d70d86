package controller

import (
	"testing"

	"github.com/lsst/qserv-sub024/internal/job"
	"github.com/lsst/qserv-sub024/internal/request"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddLookupRemoveRequest(t *testing.T) {
	r := newRegistry()
	req := &request.Base{}

	r.AddRequest("r1", req)
	got, ok := r.Request("r1")
	require.True(t, ok)
	require.Same(t, req, got)
	require.Equal(t, []string{"r1"}, r.ActiveRequestIDs())

	r.RemoveRequest("r1")
	_, ok = r.Request("r1")
	require.False(t, ok)
	require.Empty(t, r.ActiveRequestIDs())
}

func TestRegistryAddLookupRemoveJob(t *testing.T) {
	r := newRegistry()
	j := &job.Base{}

	r.AddJob("j1", j)
	got, ok := r.Job("j1")
	require.True(t, ok)
	require.Same(t, j, got)
	require.Equal(t, []string{"j1"}, r.ActiveJobIDs())

	r.RemoveJob("j1")
	_, ok = r.Job("j1")
	require.False(t, ok)
	require.Empty(t, r.ActiveJobIDs())
}
