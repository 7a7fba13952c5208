// Package commitlog implements the append-only, segmented, memory-mapped
// broker log: the record codec lives in record, the segment container in
// store; this package wires them into the writer serializer, durability
// services, recovery, and the CommitLog facade producers call.
package commitlog

import (
	"sync/atomic"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/pkg/errors"

	"github.com/brokerlog/commitlog/dispatch"
	"github.com/brokerlog/commitlog/ha"
	"github.com/brokerlog/commitlog/record"
	"github.com/brokerlog/commitlog/store"
)

// PutRequest is what a producer hands to PutMessage.
type PutRequest struct {
	Topic         string
	QueueID       uint32
	Body          []byte
	Properties    map[string]string
	SysFlag       uint32
	DelayLevel    int32
	BornHost      record.Addr
	WaitStoreOK   bool
	PrepTxnOffset uint64
}

// CommitLog is the facade described in §4.4-§4.8: a single-writer,
// segmented, memory-mapped append log with pluggable sync/async durability
// and a replication wait.
type CommitLog struct {
	logger   *logp.Logger
	opts     Options
	store    *store.Container
	tails    *queueTailTable
	append   *appendCallback
	locker   Locker
	pipeline dispatch.Pipeline
	ha       ha.Service

	groupCommit *groupCommitService
	asyncFlush  *asyncFlushService
	commitSvc   *commitService

	// flushFn/commitFn default to cl.store.Flush/Commit; tests override
	// them to simulate a stalled disk without needing a fake Container.
	flushFn  func(leastPages int) bool
	commitFn func(leastPages int) bool

	lastAppendedTimestamp uint64 // atomic: store_timestamp of the most recent append
	checkpointTimestamp   uint64 // atomic: §4.5 step 4's broker-wide checkpoint
}

// Open creates or indexes an on-disk segment container at opts.Dir and
// returns a CommitLog ready for recovery and Start. storeHost identifies
// this broker in every record's store_host field and in produced msg_ids.
func Open(opts Options, storeHost record.Addr, pipeline dispatch.Pipeline, haSvc ha.Service) (*CommitLog, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := logp.NewLogger("commitlog")

	container, err := store.NewContainer(logger, opts.Dir, opts.SegmentSize, opts.TransientPoolEnabled)
	if err != nil {
		return nil, errors.Wrap(err, "open segment container")
	}

	if pipeline == nil {
		pipeline = dispatch.NoopPipeline{}
	}
	if haSvc == nil {
		haSvc = ha.AlwaysAvailable{}
	}

	cl := &CommitLog{
		logger:   logger,
		opts:     opts,
		store:    container,
		tails:    newQueueTailTable(),
		locker:   NewLocker(opts.LockerKind),
		pipeline: pipeline,
		ha:       haSvc,
	}
	cl.append = newAppendCallback(opts.MaxMessageSize, storeHost, cl.tails)
	cl.flushFn = cl.flushContainer
	cl.commitFn = cl.commitContainer

	ts, err := readCheckpoint(opts.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "load recovery checkpoint")
	}
	atomic.StoreUint64(&cl.checkpointTimestamp, ts)

	return cl, nil
}

// LoadRecoveryCheckpoint builds the RecoveryCheckpoint an abnormal recovery
// should trust from the on-disk checkpoint file, using the same timestamp
// for both bounds (index_safety callers tighten IndexSafeMinTimestamp
// themselves when a consume-queue rebuild needs a stricter bound).
func (cl *CommitLog) LoadRecoveryCheckpoint() RecoveryCheckpoint {
	ts := cl.LastCheckpointTimestamp()
	return RecoveryCheckpoint{MinTimestamp: ts, IndexSafeMinTimestamp: ts}
}

// RecoverNormally replays the log from the third-from-last segment (clean
// shutdown path, §4.7). Call once before Start.
func (cl *CommitLog) RecoverNormally() uint64 {
	outcome := recoverNormally(cl.logger, cl.store, cl.tails)
	return outcome.processed
}

// RecoverAbnormally replays the log from the newest trustworthy segment,
// dispatching every valid record to the pipeline so derived state can be
// rebuilt (crash path, §4.7).
func (cl *CommitLog) RecoverAbnormally(checkpoint RecoveryCheckpoint, indexSafety, duplicationEnable bool, confirmOffset uint64) (processed uint64, dispatched int) {
	outcome := recoverAbnormally(cl.logger, cl.store, cl.tails, cl.pipeline, checkpoint, indexSafety, duplicationEnable, confirmOffset)
	return outcome.processed, outcome.dispatch
}

// Start launches the background durability services appropriate to opts:
// group-commit if sync mode is on, otherwise async flush (plus commit if
// the transient pool is enabled).
func (cl *CommitLog) Start() {
	if cl.opts.SyncFlushEnabled {
		cl.groupCommit = newGroupCommitService(cl.logger, cl.opts.GroupCommitPollInterval, cl.flushFn, cl.store.FlushedWhere, cl.updateCheckpoint)
		cl.groupCommit.Start()
		return
	}
	cl.asyncFlush = newAsyncFlushService(cl.logger, cl.opts.FlushInterval, cl.opts.ThoroughInterval, cl.opts.FlushLeastPages, cl.flushFn)
	cl.asyncFlush.Start()
	if cl.opts.TransientPoolEnabled {
		cl.commitSvc = newCommitService(cl.logger, cl.opts.CommitInterval, cl.opts.ThoroughInterval, cl.opts.CommitLeastPages, cl.commitFn, cl.asyncFlush.notify)
		cl.commitSvc.Start()
	}
}

// Shutdown stops background services in reverse startup order (§5).
func (cl *CommitLog) Shutdown() {
	if cl.commitSvc != nil {
		cl.commitSvc.Shutdown()
	}
	if cl.asyncFlush != nil {
		cl.asyncFlush.Shutdown()
	}
	if cl.groupCommit != nil {
		cl.groupCommit.Shutdown()
	}
}

// Close releases the underlying segment container. Call after Shutdown.
func (cl *CommitLog) Close() error {
	return cl.store.Close()
}

func (cl *CommitLog) flushContainer(leastPages int) bool {
	return cl.store.Flush(leastPages)
}

func (cl *CommitLog) commitContainer(leastPages int) bool {
	return cl.store.Commit(leastPages)
}

func (cl *CommitLog) updateCheckpoint() {
	ts := atomic.LoadUint64(&cl.lastAppendedTimestamp)
	atomic.StoreUint64(&cl.checkpointTimestamp, ts)
	if err := writeCheckpoint(cl.opts.Dir, ts); err != nil {
		cl.logger.Warnf("failed to persist recovery checkpoint: %v", err)
	}
}

// LastCheckpointTimestamp returns the broker-wide physical-message
// timestamp checkpoint the group-commit service maintains (§4.5 step 4).
func (cl *CommitLog) LastCheckpointTimestamp() uint64 {
	return atomic.LoadUint64(&cl.checkpointTimestamp)
}

// PutMessage implements §4.4's nine-step sequence.
func (cl *CommitLog) PutMessage(req *PutRequest) PutMessageResult {
	now := uint64(time.Now().UnixMilli())

	// BodyCRC is recomputed by record.Marshal; step 1 of §4.4 only needs
	// the store_timestamp stamped here, ahead of the delay remap check.
	rec := &record.Record{
		Topic:          req.Topic,
		QueueID:        req.QueueID,
		Body:           req.Body,
		Properties:     req.Properties,
		SysFlag:        req.SysFlag,
		BornTimestamp:  now,
		BornHost:       req.BornHost,
		StoreTimestamp: now,
		PrepTxnOffset:  req.PrepTxnOffset,
	}

	if !record.IsPreparedOrRollback(rec.SysFlag) && req.DelayLevel > 0 {
		record.ApplyDelayRemap(rec, req.DelayLevel)
	}

	seg, err := cl.store.LastSegmentFrom(0)
	if err != nil || seg == nil {
		return PutMessageResult{Status: CreateMappedFileFailed}
	}

	lockBegin := time.Now()
	cl.locker.Lock()
	rec.StoreTimestamp = uint64(time.Now().UnixMilli())

	result := cl.append.doAppend(seg, rec)
	if result.status == appendEndOfFile {
		seg, err = cl.store.CreateNextSegment()
		if err != nil || seg == nil {
			cl.locker.Unlock()
			return PutMessageResult{Status: CreateMappedFileFailed}
		}
		result = cl.append.doAppend(seg, rec)
	}
	cl.locker.Unlock()

	elapsed := time.Since(lockBegin)
	if elapsed > cl.opts.WarnLockHoldThreshold {
		cl.logger.Warnf("put_message held the writer lock for %v", elapsed)
	}

	switch result.status {
	case appendMessageSizeExceeded, appendPropertiesSizeExceeded:
		return PutMessageResult{Status: MessageIllegal, Elapsed: elapsed}
	case appendUnknownError:
		return PutMessageResult{Status: UnknownError, Elapsed: elapsed}
	case appendEndOfFile:
		return PutMessageResult{Status: CreateMappedFileFailed, Elapsed: elapsed}
	}

	atomic.StoreUint64(&cl.lastAppendedTimestamp, result.storeTimestamp)

	putResult := PutMessageResult{
		Status:         PutOK,
		WroteOffset:    result.wroteOffset,
		WroteBytes:     result.wroteBytes,
		MsgID:          result.msgID,
		StoreTimestamp: result.storeTimestamp,
		QueueOffset:    result.queueOffset,
		Elapsed:        elapsed,
	}

	target := result.wroteOffset + uint64(result.wroteBytes)
	cl.awaitDurability(req, target, &putResult)
	cl.awaitReplication(req, target, &putResult)

	return putResult
}

// awaitDurability implements §4.4 step 7.
func (cl *CommitLog) awaitDurability(req *PutRequest, target uint64, result *PutMessageResult) {
	if cl.opts.SyncFlushEnabled {
		if !req.WaitStoreOK {
			cl.groupCommit.notify()
			return
		}
		gcr := NewGroupCommitRequest(target)
		cl.groupCommit.putRequest(gcr)
		ok, timedOut := gcr.Await(cl.opts.SyncFlushTimeout)
		if timedOut || !ok {
			result.Status = FlushDiskTimeout
		}
		return
	}
	if cl.opts.TransientPoolEnabled {
		cl.commitSvc.notify()
		return
	}
	cl.asyncFlush.notify()
}

// awaitReplication implements §4.4 step 8.
func (cl *CommitLog) awaitReplication(req *PutRequest, target uint64, result *PutMessageResult) {
	if !cl.opts.SyncMaster || !req.WaitStoreOK {
		return
	}
	if !cl.ha.IsSlaveOK(target) {
		result.Status = SlaveNotAvailable
		return
	}
	gcr := NewGroupCommitRequest(target)
	cl.ha.PutRequest(gcr)
	ok, timedOut := gcr.Await(cl.opts.SyncFlushTimeout)
	if timedOut || !ok {
		result.Status = FlushSlaveTimeout
	}
}

// GetData implements §4.8's get_data.
func (cl *CommitLog) GetData(offset uint64, returnFirstOnMiss bool) []byte {
	seg := cl.store.FindByOffset(offset, returnFirstOnMiss)
	if seg == nil {
		return nil
	}
	return seg.ReadAt(uint32(offset - seg.BaseOffset()))
}

// GetMessage implements §4.8's get_message.
func (cl *CommitLog) GetMessage(offset uint64, size uint32) []byte {
	seg := cl.store.FindByOffset(offset, false)
	if seg == nil {
		return nil
	}
	local := uint32(offset - seg.BaseOffset())
	full := seg.ReadAt(local)
	if uint32(len(full)) < size {
		return nil
	}
	return full[:size]
}

// PickupStoreTimestamp implements §4.8's pickup_store_timestamp.
func (cl *CommitLog) PickupStoreTimestamp(offset uint64, size uint32) (uint64, bool) {
	buf := cl.GetMessage(offset, size)
	if buf == nil {
		return 0, false
	}
	return record.PickupStoreTimestamp(buf)
}

// MinOffset implements §4.8's min_offset.
func (cl *CommitLog) MinOffset() (uint64, bool) {
	return cl.store.MinOffset()
}

// MaxOffset implements §4.8's max_offset.
func (cl *CommitLog) MaxOffset() uint64 {
	return cl.store.MaxOffset()
}

// RollNextFile implements §4.8's roll_next_file.
func (cl *CommitLog) RollNextFile(offset uint64) uint64 {
	return cl.store.RollNextFile(offset)
}

// FlushedWhere returns the highest durably persisted offset.
func (cl *CommitLog) FlushedWhere() uint64 {
	return cl.store.FlushedWhere()
}
