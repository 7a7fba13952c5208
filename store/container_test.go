package store

import (
	"testing"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContainer(t *testing.T, segmentSize uint32, transientPool bool) *Container {
	t.Helper()
	logger := logp.NewLogger("test")
	c, err := NewContainer(logger, t.TempDir(), segmentSize, transientPool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLastSegmentFromCreatesWhenEmpty(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	seg, err := c.LastSegmentFrom(0)
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.Equal(t, uint64(0), seg.BaseOffset())
	assert.Equal(t, seg, c.LastSegment())
}

func TestCreateNextSegmentRollsForward(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	first, err := c.LastSegmentFrom(0)
	require.NoError(t, err)
	first.SetWritePosition(1024)

	second, err := c.CreateNextSegment()
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), second.BaseOffset())
}

func TestFindByOffset(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	first, err := c.LastSegmentFrom(0)
	require.NoError(t, err)
	first.SetWritePosition(1024)
	_, err = c.CreateNextSegment()
	require.NoError(t, err)

	found := c.FindByOffset(1500, false)
	require.NotNil(t, found)
	assert.Equal(t, uint64(1024), found.BaseOffset())

	assert.Nil(t, c.FindByOffset(5000, false))
	assert.NotNil(t, c.FindByOffset(5000, true))
}

func TestRollNextFile(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	assert.Equal(t, uint64(1024), c.RollNextFile(0))
	assert.Equal(t, uint64(1024), c.RollNextFile(500))
	assert.Equal(t, uint64(2048), c.RollNextFile(1024))
}

func TestTruncateToRewindsActiveSegmentAndDropsTail(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	first, err := c.LastSegmentFrom(0)
	require.NoError(t, err)
	first.SetWritePosition(600)
	first.SetCommittedWhere(600)
	first.SetFlushedWhere(600)

	second, err := c.CreateNextSegment()
	require.NoError(t, err)
	second.SetWritePosition(200)

	require.NoError(t, c.TruncateTo(400))

	segs := c.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(400), segs[0].WritePosition())
	assert.Equal(t, uint32(400), segs[0].CommittedWhere())
	assert.Equal(t, uint32(400), segs[0].FlushedWhere())
}

func TestNewContainerIndexesExistingSegments(t *testing.T) {
	dir := t.TempDir()
	logger := logp.NewLogger("test")

	c1, err := NewContainer(logger, dir, 1024, false)
	require.NoError(t, err)
	_, err = c1.LastSegmentFrom(0)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := NewContainer(logger, dir, 1024, false)
	require.NoError(t, err)
	defer c2.Close()
	assert.Len(t, c2.Segments(), 1)
}

func TestDeleteExpiredSegmentsKeepsActive(t *testing.T) {
	c := newTestContainer(t, 1024, false)
	first, err := c.LastSegmentFrom(0)
	require.NoError(t, err)
	first.SetWritePosition(1024)
	_, err = c.CreateNextSegment()
	require.NoError(t, err)

	removed, err := c.DeleteExpiredSegments(func(*Segment) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, c.Segments(), 1)
}
