package replica

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispositionChunksIncludesChunksWithNoCompleteReplicaAnywhere(t *testing.T) {
	// Chunk 7 is INCOMPLETE on W1 and absent everywhere else: no COMPLETE
	// record exists for it at all. Chunks() must still surface it so a
	// caller building a replication plan doesn't silently skip it.
	d := NewDisposition([]Info{
		{Worker: "W1", Database: "D1", Chunk: 7, Status: StatusIncomplete},
		{Worker: "W2", Database: "D1", Chunk: 9, Status: StatusComplete},
	})

	require.ElementsMatch(t, []uint32{7, 9}, d.Chunks())
	require.Empty(t, d.WorkersWithCompleteReplica("D1", 7))
	require.Equal(t, []string{"W2"}, d.WorkersWithCompleteReplica("D1", 9))
}

func TestDispositionIsColocatedRequiresCompleteReplicaOfEveryFamilyDatabase(t *testing.T) {
	d := NewDisposition([]Info{
		{Worker: "W1", Database: "D1", Chunk: 7, Status: StatusComplete},
		{Worker: "W1", Database: "D2", Chunk: 7, Status: StatusIncomplete},
	})

	require.False(t, d.IsColocated(7, "W1", []string{"D1", "D2"}))
	require.True(t, d.IsColocated(7, "W1", []string{"D1"}))
}
