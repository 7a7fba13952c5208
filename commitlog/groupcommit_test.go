package commitlog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCommitRequestCompleteIsIdempotent(t *testing.T) {
	req := NewGroupCommitRequest(100)
	req.Complete(true)
	req.Complete(false) // second call must not panic or change the result

	ok, timedOut := req.Await(time.Second)
	assert.True(t, ok)
	assert.False(t, timedOut)
}

func TestGroupCommitRequestAwaitTimesOut(t *testing.T) {
	req := NewGroupCommitRequest(100)
	ok, timedOut := req.Await(10 * time.Millisecond)
	assert.False(t, ok)
	assert.True(t, timedOut)
}

func TestGroupCommitServiceForcesFlushWhenNothingPending(t *testing.T) {
	var flushed uint64
	flush := func(int) bool {
		atomic.AddUint64(&flushed, 1)
		return true
	}
	svc := newGroupCommitService(logp.NewLogger("test"), time.Millisecond, flush, func() uint64 { return 0 }, nil)
	svc.Start()
	defer svc.Shutdown()

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, atomic.LoadUint64(&flushed), uint64(0))
}

func TestGroupCommitServiceCompletesRequestOnceTargetReached(t *testing.T) {
	var watermark uint64
	flush := func(int) bool {
		atomic.StoreUint64(&watermark, 100)
		return false
	}
	var checkpoints int
	svc := newGroupCommitService(logp.NewLogger("test"), time.Hour, flush, func() uint64 { return atomic.LoadUint64(&watermark) }, func() { checkpoints++ })
	svc.Start()
	defer svc.Shutdown()

	req := NewGroupCommitRequest(100)
	svc.putRequest(req)

	ok, timedOut := req.Await(time.Second)
	assert.True(t, ok)
	assert.False(t, timedOut)
}

func TestGroupCommitServiceFailsRequestWhenTargetNeverReached(t *testing.T) {
	flush := func(int) bool { return true } // never advances the watermark
	svc := newGroupCommitService(logp.NewLogger("test"), time.Hour, flush, func() uint64 { return 0 }, nil)
	svc.Start()
	defer svc.Shutdown()

	req := NewGroupCommitRequest(100)
	svc.putRequest(req)

	ok, timedOut := req.Await(time.Second)
	require.False(t, timedOut)
	assert.False(t, ok)
}

func TestGroupCommitServiceShutdownFlushesPendingOnce(t *testing.T) {
	var flushes int32
	flush := func(int) bool {
		atomic.AddInt32(&flushes, 1)
		return true
	}
	svc := newGroupCommitService(logp.NewLogger("test"), time.Hour, flush, func() uint64 { return 0 }, nil)
	svc.Start()
	svc.Shutdown()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&flushes), int32(1))
}
