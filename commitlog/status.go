package commitlog

import "time"

// PutMessageStatus is the closed result taxonomy put_message returns to
// producers (§4.4, §7). Internal errors are translated into this enum at
// the facade boundary; they never leak as raw Go errors to a caller
// expecting a status.
type PutMessageStatus int

const (
	PutOK PutMessageStatus = iota
	CreateMappedFileFailed
	MessageIllegal
	FlushDiskTimeout
	FlushSlaveTimeout
	SlaveNotAvailable
	UnknownError
)

func (s PutMessageStatus) String() string {
	switch s {
	case PutOK:
		return "PUT_OK"
	case CreateMappedFileFailed:
		return "CREATE_MAPEDFILE_FAILED"
	case MessageIllegal:
		return "MESSAGE_ILLEGAL"
	case FlushDiskTimeout:
		return "FLUSH_DISK_TIMEOUT"
	case FlushSlaveTimeout:
		return "FLUSH_SLAVE_TIMEOUT"
	case SlaveNotAvailable:
		return "SLAVE_NOT_AVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// PutMessageResult is what put_message returns.
type PutMessageResult struct {
	Status         PutMessageStatus
	WroteOffset    uint64
	WroteBytes     uint32
	MsgID          [16]byte
	StoreTimestamp uint64
	QueueOffset    uint64
	Elapsed        time.Duration
}

// appendStatus classifies the append callback's outcome (§4.2), internal
// to this package; the facade translates it into PutMessageStatus.
type appendStatus int

const (
	appendPutOK appendStatus = iota
	appendEndOfFile
	appendMessageSizeExceeded
	appendPropertiesSizeExceeded
	appendUnknownError
)

// appendResult is the append callback's return value (§4.2).
type appendResult struct {
	status         appendStatus
	wroteOffset    uint64
	wroteBytes     uint32
	msgID          [16]byte
	storeTimestamp uint64
	queueOffset    uint64
}
