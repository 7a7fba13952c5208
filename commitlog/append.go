package commitlog

import (
	"fmt"
	"sync"

	"github.com/brokerlog/commitlog/record"
	"github.com/brokerlog/commitlog/store"
)

// queueTailTable tracks the next queue_offset to assign per (topic,
// queue_id), mutated only under the writer lock or during single-threaded
// recovery replay (§5).
type queueTailTable struct {
	mu    sync.Mutex
	tails map[string]uint64
}

func newQueueTailTable() *queueTailTable {
	return &queueTailTable{tails: make(map[string]uint64)}
}

func tailKey(topic string, queueID uint32) string {
	return fmt.Sprintf("%s-%d", topic, queueID)
}

func (t *queueTailTable) peek(topic string, queueID uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tails[tailKey(topic, queueID)]
}

func (t *queueTailTable) advance(topic string, queueID uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := tailKey(topic, queueID)
	cur := t.tails[key]
	t.tails[key] = cur + 1
	return cur
}

// setTail forces the tail for (topic, queue_id), used by recovery replay.
func (t *queueTailTable) setTail(topic string, queueID uint32, tail uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tails[tailKey(topic, queueID)] = tail
}

// appendCallback implements §4.2: encode exactly one record (or a blank
// trailer) into a segment's writable region, maintaining the per-queue
// tail table and the queue-offset policy from §4.1.
type appendCallback struct {
	maxMessageSize int32
	storeHost      record.Addr
	tails          *queueTailTable
}

func newAppendCallback(maxMessageSize int32, storeHost record.Addr, tails *queueTailTable) *appendCallback {
	return &appendCallback{maxMessageSize: maxMessageSize, storeHost: storeHost, tails: tails}
}

// doAppend writes rec into seg at its current write position. rec.Topic,
// rec.QueueID, rec.SysFlag, rec.Body, rec.Properties, rec.BornTimestamp,
// rec.BornHost, rec.StoreTimestamp must already be set by the caller; this
// function assigns queue_offset, physical_offset and the codec-computed
// fields.
func (a *appendCallback) doAppend(seg *store.Segment, rec *record.Record) appendResult {
	propsBytes := record.EncodeProperties(rec.Properties)
	if len(propsBytes) > record.MaxPropertiesLen {
		return appendResult{status: appendPropertiesSizeExceeded}
	}

	msgLen := record.EncodeLength(len(rec.Body), len(rec.Topic), len(propsBytes))
	if int32(msgLen) > a.maxMessageSize {
		return appendResult{status: appendMessageSizeExceeded}
	}

	remaining := seg.Remaining()
	if uint32(msgLen)+8 > remaining {
		region := seg.WritableRegion()
		n := record.WriteBlankTrailer(region, remaining)
		// The trailer claims the rest of the segment, so the write position
		// moves to the segment's end and flush/commit can move on to the
		// next segment.
		seg.Advance(remaining)
		return appendResult{status: appendEndOfFile, wroteBytes: uint32(n)}
	}

	preparedOrRollback := record.IsPreparedOrRollback(rec.SysFlag)
	var queueOffset uint64
	if preparedOrRollback {
		queueOffset = 0
	} else {
		queueOffset = a.tails.peek(rec.Topic, rec.QueueID)
	}

	writePos := seg.WritePosition()
	rec.QueueOffset = queueOffset
	rec.PhysicalOffset = seg.BaseOffset() + uint64(writePos)
	rec.StoreHost = a.storeHost

	region := seg.WritableRegion()
	n, err := record.Marshal(region, rec)
	if err != nil {
		return appendResult{status: appendUnknownError}
	}
	seg.Advance(uint32(n))

	if !preparedOrRollback {
		a.tails.advance(rec.Topic, rec.QueueID)
	}

	wroteOffset := rec.PhysicalOffset
	msgID := record.MsgID(a.storeHost, wroteOffset)

	return appendResult{
		status:         appendPutOK,
		wroteOffset:    wroteOffset,
		wroteBytes:     uint32(n),
		msgID:          msgID,
		storeTimestamp: rec.StoreTimestamp,
		queueOffset:    queueOffset,
	}
}
