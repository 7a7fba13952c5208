// Package store provides the segmented, memory-mapped file container the
// commit log appends into. The container's interface is the only thing
// the commit-log spec mandates (§6); this package is the reference
// implementation that makes the rest of the module runnable end to end.
package store

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"
)

// filenameWidth is the zero-padded width of a segment's filename, which is
// its base offset in decimal.
const filenameWidth = 20

// FormatFilename renders baseOffset as a segment's 20-digit zero-padded
// filename.
func FormatFilename(baseOffset uint64) string {
	return fmt.Sprintf("%0*d", filenameWidth, baseOffset)
}

// Segment is one fixed-size, memory-mapped backing file for a contiguous
// range of the log.
type Segment struct {
	baseOffset uint64
	path       string
	size       uint32

	file *os.File
	mm   gommap.MMap

	// transientBuf holds appended bytes before Commit copies them into mm,
	// when the transient write-buffer pool is enabled. Nil otherwise, in
	// which case appends go straight into mm and committedWhere tracks
	// writePos exactly.
	transientBuf []byte

	writePos       uint32 // atomic
	committedWhere uint32 // atomic
	flushedWhere   uint32 // atomic
}

// OpenSegment opens or creates the segment file at dir/FormatFilename(baseOffset),
// sized to exactly size bytes, and maps it into memory.
func OpenSegment(dir string, baseOffset uint64, size uint32, transientPool bool) (*Segment, error) {
	path := dir + string(os.PathSeparator) + FormatFilename(baseOffset)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open segment file")
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "size segment file")
	}
	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap segment file")
	}
	s := &Segment{
		baseOffset: baseOffset,
		path:       path,
		size:       size,
		file:       f,
		mm:         mm,
	}
	if transientPool {
		s.transientBuf = make([]byte, size)
	}
	return s, nil
}

func (s *Segment) BaseOffset() uint64 { return s.baseOffset }
func (s *Segment) Size() uint32       { return s.size }
func (s *Segment) Path() string       { return s.path }

func (s *Segment) WritePosition() uint32     { return atomic.LoadUint32(&s.writePos) }
func (s *Segment) CommittedWhere() uint32    { return atomic.LoadUint32(&s.committedWhere) }
func (s *Segment) FlushedWhere() uint32      { return atomic.LoadUint32(&s.flushedWhere) }
func (s *Segment) SetWritePosition(p uint32) { atomic.StoreUint32(&s.writePos, p) }
func (s *Segment) SetCommittedWhere(p uint32) { atomic.StoreUint32(&s.committedWhere, p) }
func (s *Segment) SetFlushedWhere(p uint32)  { atomic.StoreUint32(&s.flushedWhere, p) }

// Remaining returns the number of unwritten bytes left in the segment.
func (s *Segment) Remaining() uint32 {
	return s.size - s.WritePosition()
}

// WritableRegion returns the slice an append callback should write into for
// the next record: the transient buffer if the pool is enabled, otherwise
// the mapped region directly.
func (s *Segment) WritableRegion() []byte {
	pos := s.WritePosition()
	if s.transientBuf != nil {
		return s.transientBuf[pos:]
	}
	return s.mm[pos:]
}

// Advance records that n bytes were written at the current write position
// and returns the new write position.
func (s *Segment) Advance(n uint32) uint32 {
	pos := atomic.AddUint32(&s.writePos, n)
	if s.transientBuf == nil {
		// No transient pool: bytes landed directly in the mapped region, so
		// committed tracks written exactly.
		atomic.StoreUint32(&s.committedWhere, pos)
	}
	return pos
}

// ReadAt returns a read-only slice of the segment's mapped content
// starting at the given local offset. Only bytes already committed into
// the mapped region are visible.
func (s *Segment) ReadAt(from uint32) []byte {
	limit := s.CommittedWhere()
	if from >= limit {
		return nil
	}
	return s.mm[from:limit]
}

// ReadRange returns a read-only slice [from, from+n) of the mapped region,
// regardless of the committed watermark. Used by recovery, which must be
// able to see bytes written in this process (not yet fsynced) while
// replaying a crash.
func (s *Segment) ReadRange(from, n uint32) []byte {
	if from > s.size || from+n > s.size {
		return nil
	}
	return s.mm[from : from+n]
}

// Commit copies bytes from the transient buffer into the mapped region.
// leastPages suppresses the copy until at least leastPages*pageSize bytes
// are dirty; leastPages<=0 forces it. It returns whether any bytes were
// actually committed.
func (s *Segment) Commit(leastPages int) (committed bool, err error) {
	if s.transientBuf == nil {
		return false, nil
	}
	write := s.WritePosition()
	committedWhere := s.CommittedWhere()
	if write == committedWhere {
		return false, nil
	}
	if leastPages > 0 {
		dirtyPages := int((write - committedWhere) / pageSize)
		if dirtyPages < leastPages {
			return false, nil
		}
	}
	n := copy(s.mm[committedWhere:write], s.transientBuf[committedWhere:write])
	atomic.StoreUint32(&s.committedWhere, committedWhere+uint32(n))
	return true, nil
}

// Flush persists the mapped region through committedWhere to durable
// storage. leastPages suppresses the sync until at least leastPages pages
// are dirty; leastPages<=0 forces it. It returns true if there was nothing
// to do.
func (s *Segment) Flush(leastPages int) (nothingToDo bool, err error) {
	write := s.CommittedWhere()
	flushed := s.FlushedWhere()
	if write == flushed {
		return true, nil
	}
	if leastPages > 0 {
		dirtyPages := int((write - flushed) / pageSize)
		if dirtyPages < leastPages {
			return true, nil
		}
	}
	if err := s.mm.Sync(gommap.MS_SYNC); err != nil {
		return false, errors.Wrap(err, "sync segment")
	}
	atomic.StoreUint32(&s.flushedWhere, write)
	return false, nil
}

// Close unmaps and closes the backing file.
func (s *Segment) Close() error {
	if err := s.mm.UnsafeUnmap(); err != nil {
		s.file.Close()
		return errors.Wrap(err, "unmap segment")
	}
	return s.file.Close()
}

// Remove closes and deletes the segment file.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

const pageSize = 4096
