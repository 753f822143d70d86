package replica

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumEngineOverMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	var want uint64
	contents := [][]byte{
		[]byte("abc"),
		{0, 1, 2, 255},
		[]byte(""),
	}
	for i, c := range contents {
		p := filepath.Join(dir, "f"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(p, c, 0o644))
		paths = append(paths, p)
		for _, b := range c {
			want += uint64(b)
		}
	}

	eng := NewChecksumEngine(paths, 2) // small record size to force many Step calls
	defer eng.Close()
	for {
		done, err := eng.Step()
		require.NoError(t, err)
		if done {
			break
		}
	}
	require.Equal(t, want, eng.Sum())
}

func TestChecksumEngineRecordSizeClamped(t *testing.T) {
	eng := NewChecksumEngine(nil, 0)
	require.Equal(t, DefaultRecordSizeBytes, eng.recordSize)

	eng = NewChecksumEngine(nil, MaxRecordSizeBytes+100)
	require.Equal(t, MaxRecordSizeBytes, eng.recordSize)
}
