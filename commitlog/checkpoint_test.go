package commitlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCheckpointMissingFileReturnsZero(t *testing.T) {
	ts, err := readCheckpoint(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ts)
}

func TestWriteCheckpointRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeCheckpoint(dir, 1234567890))

	ts, err := readCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567890), ts)
}

func TestOpenLoadsExistingCheckpoint(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, writeCheckpoint(opts.Dir, 42))

	cl, err := Open(opts, testHost, nil, nil)
	require.NoError(t, err)
	defer cl.Close()

	assert.Equal(t, uint64(42), cl.LastCheckpointTimestamp())
}
