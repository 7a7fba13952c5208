package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSegmentFilename(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenSegment(dir, 42, 1024, false)
	require.NoError(t, err)
	defer seg.Close()
	assert.Contains(t, seg.Path(), "00000000000000000042")
}

func TestAdvanceWithoutTransientPoolTracksCommittedExactly(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 1024, false)
	require.NoError(t, err)
	defer seg.Close()

	seg.Advance(100)
	assert.Equal(t, uint32(100), seg.WritePosition())
	assert.Equal(t, uint32(100), seg.CommittedWhere())
}

func TestCommitCopiesTransientBufferIntoMappedRegion(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 1024, true)
	require.NoError(t, err)
	defer seg.Close()

	region := seg.WritableRegion()
	copy(region, []byte("hello"))
	seg.Advance(5)

	assert.Nil(t, seg.ReadAt(0)) // not committed yet

	committed, err := seg.Commit(0)
	require.NoError(t, err)
	assert.True(t, committed)

	data := seg.ReadAt(0)
	require.NotNil(t, data)
	assert.Equal(t, "hello", string(data))
}

func TestCommitRespectsLeastPages(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 8192, true)
	require.NoError(t, err)
	defer seg.Close()

	copy(seg.WritableRegion(), []byte("hi"))
	seg.Advance(2)

	committed, err := seg.Commit(10) // needs 10 dirty pages, we have far less than 1
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestFlushReportsNothingToDoWhenCaughtUp(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 1024, false)
	require.NoError(t, err)
	defer seg.Close()

	nothingToDo, err := seg.Flush(0)
	require.NoError(t, err)
	assert.True(t, nothingToDo)
}

func TestFlushAdvancesFlushedWhereAfterWrite(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 1024, false)
	require.NoError(t, err)
	defer seg.Close()

	seg.Advance(50)
	nothingToDo, err := seg.Flush(0)
	require.NoError(t, err)
	assert.False(t, nothingToDo)
	assert.Equal(t, uint32(50), seg.FlushedWhere())
}

// ReadRange bypasses the committedWhere watermark entirely, reading straight
// from the mapped region. Recovery relies on this to see bytes this process
// wrote directly into mm before Advance recorded the new write position (the
// byte-level picture of a crash mid-append).
func TestReadRangeSeesBytesNotYetAdvancedPast(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), 0, 1024, false)
	require.NoError(t, err)
	defer seg.Close()

	copy(seg.WritableRegion(), []byte("hi"))

	assert.Nil(t, seg.ReadAt(0))
	assert.Equal(t, "hi", string(seg.ReadRange(0, 2)))
}
