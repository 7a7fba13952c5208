package commitlog

import (
	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/brokerlog/commitlog/dispatch"
	"github.com/brokerlog/commitlog/record"
	"github.com/brokerlog/commitlog/store"
)

// RecoveryCheckpoint is the minimum store_timestamp abnormal recovery
// trusts when picking a starting segment (§4.7).
type RecoveryCheckpoint struct {
	// MinTimestamp is the plain min checkpoint.
	MinTimestamp uint64
	// IndexSafeMinTimestamp is used instead of MinTimestamp when
	// indexSafety is requested.
	IndexSafeMinTimestamp uint64
}

type recoveryOutcome struct {
	processed uint64
	dispatch  int
}

// recoverNormally implements §4.7's clean-shutdown path: start from the
// third-from-last segment (or the first, if fewer exist), decode
// sequentially, and stop at the first Invalid frame or exhausted segment
// list.
func recoverNormally(logger *logp.Logger, container *store.Container, tails *queueTailTable) recoveryOutcome {
	logger = logger.Named("recovery")
	segs := container.Segments()
	if len(segs) == 0 {
		container.SetFlushedWhere(0)
		container.SetCommittedWhere(0)
		return recoveryOutcome{}
	}
	startIdx := 0
	if len(segs) >= 3 {
		startIdx = len(segs) - 3
	}
	processed := replay(logger, segs, startIdx, tails, nil, 0, false)
	if err := container.TruncateTo(processed); err != nil {
		logger.Errorf("truncate to %d: %v", processed, err)
	}
	container.SetFlushedWhere(processed)
	container.SetCommittedWhere(processed)
	return recoveryOutcome{processed: processed}
}

// recoverAbnormally implements §4.7's crash path: find the newest segment
// whose first record looks valid and whose store_timestamp is old enough
// to trust, replay forward dispatching every valid record so derived state
// (consume queues, indices) can be rebuilt, and truncate at the first
// invalid boundary.
func recoverAbnormally(logger *logp.Logger, container *store.Container, tails *queueTailTable, pipeline dispatch.Pipeline, checkpoint RecoveryCheckpoint, indexSafety, duplicationEnable bool, confirmOffset uint64) recoveryOutcome {
	logger = logger.Named("recovery")
	segs := container.Segments()
	if len(segs) == 0 {
		container.SetFlushedWhere(0)
		container.SetCommittedWhere(0)
		return recoveryOutcome{}
	}

	minTimestamp := checkpoint.MinTimestamp
	if indexSafety {
		minTimestamp = checkpoint.IndexSafeMinTimestamp
	}

	startIdx := 0
	for i := len(segs) - 1; i >= 0; i-- {
		ts, ok := firstRecordTimestamp(segs[i])
		if ok && ts <= minTimestamp {
			startIdx = i
			break
		}
	}

	counter := &dispatchCounter{pipeline: pipeline}
	processed := replay(logger, segs, startIdx, tails, counter, confirmOffset, duplicationEnable)

	if err := container.TruncateTo(processed); err != nil {
		logger.Errorf("truncate to %d: %v", processed, err)
	}
	container.SetFlushedWhere(processed)
	container.SetCommittedWhere(processed)
	return recoveryOutcome{processed: processed, dispatch: counter.count}
}

type dispatchCounter struct {
	pipeline dispatch.Pipeline
	count    int
}

// firstRecordTimestamp peeks at the first frame of seg without affecting
// its write/committed pointers, returning its store_timestamp if the frame
// looks like a real record.
func firstRecordTimestamp(seg *store.Segment) (uint64, bool) {
	buf := seg.ReadRange(0, seg.Size())
	result, err := record.Decode(buf, false, false)
	if err != nil || result.Kind != record.KindRecord {
		return 0, false
	}
	return result.Record.StoreTimestamp, true
}

// replay decodes segs[startIdx:] sequentially starting at offset 0 within
// the start segment, advancing the queue tail table for every
// non-prepared/non-rollback record encountered (recovery replay is single-threaded, so this is safe without
// the writer lock, §5), and dispatching through counter when non-nil. It
// returns the absolute offset just past the last successfully decoded
// record.
func replay(logger *logp.Logger, segs []*store.Segment, startIdx int, tails *queueTailTable, counter *dispatchCounter, confirmOffset uint64, duplicationEnable bool) uint64 {
	if startIdx >= len(segs) {
		if len(segs) == 0 {
			return 0
		}
		startIdx = len(segs) - 1
	}

	var processed uint64
segments:
	for idx := startIdx; idx < len(segs); idx++ {
		seg := segs[idx]
		base := seg.BaseOffset()
		var localOffset uint32
		for {
			buf := seg.ReadRange(localOffset, seg.Size()-localOffset)
			result, err := record.Decode(buf, true, true)
			if err != nil {
				logger.Debugf("decode error at segment %v offset %d: %v", seg.Path(), localOffset, err)
				return base + uint64(localOffset)
			}
			switch result.Kind {
			case record.KindRecord:
				localOffset += uint32(result.Size)
				processed = base + uint64(localOffset)
				if !record.IsPreparedOrRollback(result.Record.SysFlag) {
					tails.setTail(result.Record.Topic, result.Record.QueueID, result.Record.QueueOffset+1)
				}
				if counter != nil {
					commitLogOffset := result.Record.PhysicalOffset
					if duplicationEnable && commitLogOffset >= confirmOffset {
						continue
					}
					counter.count++
					counter.pipeline.DoDispatch(dispatch.NewDecodedRecord(
						result.Record.Topic,
						result.Record.QueueID,
						commitLogOffset,
						int32(result.Record.TotalSize),
						0,
						result.Record.StoreTimestamp,
						result.Record.QueueOffset,
						"",
						"",
						result.Record.SysFlag,
						result.Record.PrepTxnOffset,
					))
				}
			case record.KindEndOfSegment:
				processed = base + uint64(localOffset)
				continue segments
			case record.KindInvalid:
				return base + uint64(localOffset)
			}
		}
	}
	return processed
}
