package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDecodedRecordMarksSuccess(t *testing.T) {
	rec := NewDecodedRecord("T", 1, 100, 97, 0, 123, 5, "key", "uniq", 0, 0)
	assert.True(t, rec.Success)
	assert.Equal(t, "T", rec.Topic)
	assert.Equal(t, uint64(5), rec.ConsumeQueueOffset)
}

func TestEndOfSegmentSentinel(t *testing.T) {
	rec := EndOfSegment()
	assert.False(t, rec.Success)
	assert.Equal(t, int32(0), rec.MsgSize)
}

func TestInvalidSentinel(t *testing.T) {
	rec := Invalid()
	assert.False(t, rec.Success)
	assert.Equal(t, int32(-1), rec.MsgSize)
}

func TestCountingPipelineRecordsEveryDispatch(t *testing.T) {
	p := &CountingPipeline{}
	p.DoDispatch(NewDecodedRecord("T", 0, 0, 10, 0, 0, 0, "", "", 0, 0))
	p.DoDispatch(NewDecodedRecord("T", 0, 10, 10, 0, 0, 1, "", "", 0, 0))

	assert.Equal(t, 2, p.Dispatch)
	assert.Len(t, p.Records, 2)
}

func TestNoopPipelineDoesNothing(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopPipeline{}.DoDispatch(NewDecodedRecord("T", 0, 0, 0, 0, 0, 0, "", "", 0, 0))
	})
}
