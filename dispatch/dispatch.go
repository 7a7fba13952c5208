// Package dispatch defines the contract recovery replay drives: for every
// valid record recovered from the log, the pipeline is asked to rebuild
// whatever derived state (consume queues, indices) depends on it. Rebuilding
// those structures is out of scope here (§1); only the contract and the
// record shape handed across it live in this package.
package dispatch

// DecodedRecord is the information recovery replay hands to a pipeline for
// each record it decodes, or a sentinel marking a replay boundary (see
// EndOfSegment and Invalid).
type DecodedRecord struct {
	Topic              string
	QueueID            uint32
	CommitLogOffset    uint64
	MsgSize            int32
	TagsCode           int64
	StoreTimestamp     uint64
	ConsumeQueueOffset uint64
	Keys               string
	UniqKey            string
	SysFlag            uint32
	PrepTxnOffset      uint64
	Success            bool
}

// NewDecodedRecord builds a DecodedRecord from fully decoded fields, success
// always true.
func NewDecodedRecord(topic string, queueID uint32, commitLogOffset uint64, msgSize int32, tagsCode int64, storeTimestamp uint64, consumeQueueOffset uint64, keys, uniqKey string, sysFlag uint32, prepTxnOffset uint64) DecodedRecord {
	return DecodedRecord{
		Topic:              topic,
		QueueID:            queueID,
		CommitLogOffset:    commitLogOffset,
		MsgSize:            msgSize,
		TagsCode:           tagsCode,
		StoreTimestamp:     storeTimestamp,
		ConsumeQueueOffset: consumeQueueOffset,
		Keys:               keys,
		UniqKey:            uniqKey,
		SysFlag:            sysFlag,
		PrepTxnOffset:      prepTxnOffset,
		Success:            true,
	}
}

// EndOfSegment is the sentinel for a blank trailer: MsgSize=0,
// Success=false. The commitlog package's recovery replay does not dispatch
// it.
func EndOfSegment() DecodedRecord {
	return DecodedRecord{MsgSize: 0, Success: false}
}

// Invalid is the sentinel for a corrupt or truncated frame: MsgSize=-1,
// Success=false. The commitlog package's recovery replay does not dispatch
// it.
func Invalid() DecodedRecord {
	return DecodedRecord{MsgSize: -1, Success: false}
}

// Pipeline rebuilds derived state (consume queues, indices) from recovered
// records. Implementations are out of scope for this module; callers supply
// their own, or use NoopPipeline for a runnable default.
type Pipeline interface {
	DoDispatch(rec DecodedRecord)
}

// NoopPipeline discards every dispatched record. Useful for callers that
// don't maintain derived consume-queue/index state.
type NoopPipeline struct{}

func (NoopPipeline) DoDispatch(DecodedRecord) {}

// CountingPipeline counts dispatched records and keeps each one. Useful for
// tests asserting recovery replayed the expected number of records (§8 S5).
type CountingPipeline struct {
	Records  []DecodedRecord
	Dispatch int
}

func (p *CountingPipeline) DoDispatch(rec DecodedRecord) {
	p.Dispatch++
	p.Records = append(p.Records, rec)
}
