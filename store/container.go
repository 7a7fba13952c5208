package store

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/pkg/errors"
)

// ErrNoSegments reports an empty container. No Container method returns
// it; methods that need a segment return nil or false when there is none.
var ErrNoSegments = errors.New("store: no segments")

// Container is the segmented, memory-mapped file container consumed by the
// commit log per §6: locate a segment by absolute offset, get-or-create the
// active (last) segment, flush/commit pages, truncate the tail, and
// enumerate segments in order.
type Container struct {
	logger        *logp.Logger
	dir           string
	segmentSize   uint32
	transientPool bool

	mu       sync.RWMutex
	segments []*Segment // sorted by BaseOffset, ascending
}

// NewContainer opens and maps every existing segment file under dir, in
// offset order. Reopened segments start with zeroed write/committed/flushed
// pointers until recovery sets them.
func NewContainer(logger *logp.Logger, dir string, segmentSize uint32, transientPool bool) (*Container, error) {
	logger = logger.Named("store")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create segment directory")
	}
	c := &Container{
		logger:        logger,
		dir:           dir,
		segmentSize:   segmentSize,
		transientPool: transientPool,
	}
	offsets, err := scanExistingSegments(dir)
	if err != nil {
		return nil, err
	}
	for _, base := range offsets {
		seg, err := OpenSegment(dir, base, segmentSize, transientPool)
		if err != nil {
			return nil, err
		}
		c.segments = append(c.segments, seg)
	}
	logger.Infof("indexed %d existing segments under %v", len(c.segments), dir)
	return c, nil
}

// scanExistingSegments lists segment base offsets present on disk, sorted
// ascending, ignoring anything that doesn't parse as a 20-digit filename.
func scanExistingSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read segment directory")
	}
	var offsets []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) != filenameWidth || strings.TrimLeft(name, "0123456789") != "" {
			continue
		}
		base, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		offsets = append(offsets, base)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// Segments returns the segments currently indexed, in offset order. The
// slice is a snapshot; callers must not mutate it.
func (c *Container) Segments() []*Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Segment, len(c.segments))
	copy(out, c.segments)
	return out
}

// LastSegment returns the most recently created segment, or nil if none
// exist.
func (c *Container) LastSegment() *Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.segments) == 0 {
		return nil
	}
	return c.segments[len(c.segments)-1]
}

// LastSegmentFrom returns the active segment, creating a fresh one based at
// startOffset if none exists yet.
func (c *Container) LastSegmentFrom(startOffset uint64) (*Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.segments) > 0 {
		return c.segments[len(c.segments)-1], nil
	}
	return c.createSegmentLocked(startOffset)
}

// CreateNextSegment rolls a new active segment starting where the current
// last segment ends (or at 0 if there is none).
func (c *Container) CreateNextSegment() (*Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next uint64
	if len(c.segments) > 0 {
		last := c.segments[len(c.segments)-1]
		next = last.BaseOffset() + uint64(last.Size())
	}
	return c.createSegmentLocked(next)
}

func (c *Container) createSegmentLocked(baseOffset uint64) (*Segment, error) {
	seg, err := OpenSegment(c.dir, baseOffset, c.segmentSize, c.transientPool)
	if err != nil {
		return nil, err
	}
	c.segments = append(c.segments, seg)
	return seg, nil
}

// FindByOffset locates the segment containing offset. If no segment
// contains it and returnFirstOnMiss is set, the first (oldest) segment is
// returned instead; otherwise nil.
func (c *Container) FindByOffset(offset uint64, returnFirstOnMiss bool) *Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.segments) == 0 {
		return nil
	}
	// Segments are contiguous and sorted, so a linear scan from the back
	// (the common case: offset is near the tail) suffices; binary search
	// would be the same asymptotics for the list sizes in play here.
	for i := len(c.segments) - 1; i >= 0; i-- {
		s := c.segments[i]
		if offset >= s.BaseOffset() && offset < s.BaseOffset()+uint64(s.Size()) {
			return s
		}
	}
	if returnFirstOnMiss {
		return c.segments[0]
	}
	return nil
}

// segmentIndexFor returns the index of the segment holding offset, or -1.
func (c *Container) segmentIndexFor(offset uint64) int {
	for i, s := range c.segments {
		if offset >= s.BaseOffset() && offset < s.BaseOffset()+uint64(s.Size()) {
			return i
		}
	}
	return -1
}

// WritePosition returns the absolute physical offset just past the last
// byte written to the active segment.
func (c *Container) WritePosition() uint64 {
	last := c.LastSegment()
	if last == nil {
		return 0
	}
	return last.BaseOffset() + uint64(last.WritePosition())
}

// CommittedWhere returns the highest absolute offset copied into the
// mapped region.
func (c *Container) CommittedWhere() uint64 {
	last := c.LastSegment()
	if last == nil {
		return 0
	}
	return last.BaseOffset() + uint64(last.CommittedWhere())
}

// FlushedWhere returns the highest absolute offset durably persisted.
func (c *Container) FlushedWhere() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.segments) - 1; i >= 0; i-- {
		s := c.segments[i]
		if s.FlushedWhere() > 0 || i == 0 {
			return s.BaseOffset() + uint64(s.FlushedWhere())
		}
	}
	return 0
}

// SetFlushedWhere forces the flushed watermark of the segment containing
// offset. Used by recovery.
func (c *Container) SetFlushedWhere(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.segmentIndexFor(offset)
	if idx < 0 {
		return
	}
	s := c.segments[idx]
	s.SetFlushedWhere(uint32(offset - s.BaseOffset()))
}

// SetCommittedWhere forces the committed watermark of the segment
// containing offset. Used by recovery.
func (c *Container) SetCommittedWhere(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.segmentIndexFor(offset)
	if idx < 0 {
		return
	}
	s := c.segments[idx]
	s.SetCommittedWhere(uint32(offset - s.BaseOffset()))
	s.SetWritePosition(uint32(offset - s.BaseOffset()))
}

// Flush syncs the segment holding the current flushed watermark to durable
// storage and advances that watermark. It returns true if there was
// nothing to do.
func (c *Container) Flush(leastPages int) bool {
	seg := c.segmentForFlush()
	if seg == nil {
		return true
	}
	nothingToDo, err := seg.Flush(leastPages)
	if err != nil {
		c.logger.Errorf("flush segment %v: %v", seg.Path(), err)
		return true
	}
	return nothingToDo
}

func (c *Container) segmentForFlush() *Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.segments) == 0 {
		return nil
	}
	flushed := c.FlushedWhere()
	idx := c.segmentIndexFor(flushed)
	if idx < 0 {
		idx = len(c.segments) - 1
	}
	return c.segments[idx]
}

// Commit copies transient-buffer bytes into the mapped region for the
// segment holding the current committed watermark. It returns true if data
// was actually committed.
func (c *Container) Commit(leastPages int) bool {
	c.mu.RLock()
	if len(c.segments) == 0 {
		c.mu.RUnlock()
		return false
	}
	target := c.segments[len(c.segments)-1]
	for _, s := range c.segments {
		if s.CommittedWhere() < s.WritePosition() {
			target = s
			break
		}
	}
	c.mu.RUnlock()

	committed, err := target.Commit(leastPages)
	if err != nil {
		c.logger.Errorf("commit segment %v: %v", target.Path(), err)
		return false
	}
	return committed
}

// TruncateTo discards segments and segment tails beyond offset, leaving the
// log's logical length exactly offset. Segments entirely beyond offset are
// removed from disk; the segment containing offset has its write/committed/
// flushed pointers rewound.
func (c *Container) TruncateTo(offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.segments[:0:0]
	for _, s := range c.segments {
		switch {
		case s.BaseOffset()+uint64(s.Size()) <= offset:
			kept = append(kept, s)
		case s.BaseOffset() >= offset:
			if err := s.Remove(); err != nil {
				return errors.Wrapf(err, "remove segment %v", s.Path())
			}
		default:
			local := uint32(offset - s.BaseOffset())
			s.SetWritePosition(local)
			s.SetCommittedWhere(local)
			s.SetFlushedWhere(local)
			kept = append(kept, s)
		}
	}
	c.segments = kept
	return nil
}

// MinOffset returns the base offset of the oldest available segment.
func (c *Container) MinOffset() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.segments) == 0 {
		return 0, false
	}
	return c.segments[0].BaseOffset(), true
}

// MaxOffset returns the current write position, the container's logical
// end.
func (c *Container) MaxOffset() uint64 {
	return c.WritePosition()
}

// RollNextFile returns the base offset of the segment that would follow
// the one containing offset, per §4.8.
func (c *Container) RollNextFile(offset uint64) uint64 {
	size := uint64(c.segmentSize)
	return offset + size - offset%size
}

// DeleteExpiredSegments removes segments (other than the active one) for
// which isExpired reports true, returning how many were removed. The expiry
// rule is entirely the caller's; this method applies no time or disk-usage
// policy of its own.
func (c *Container) DeleteExpiredSegments(isExpired func(s *Segment) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.segments) <= 1 {
		return 0, nil
	}
	removed := 0
	kept := c.segments[:0:0]
	for i, s := range c.segments {
		if i < len(c.segments)-1 && isExpired(s) {
			if err := s.Remove(); err != nil {
				return removed, errors.Wrapf(err, "remove expired segment %v", s.Path())
			}
			removed++
			continue
		}
		kept = append(kept, s)
	}
	c.segments = kept
	return removed, nil
}

// Close unmaps and closes every segment.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, s := range c.segments {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
