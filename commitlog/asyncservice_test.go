package commitlog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/stretchr/testify/assert"
)

func TestAsyncFlushServiceTicksOnInterval(t *testing.T) {
	var calls int32
	flush := func(int) bool {
		atomic.AddInt32(&calls, 1)
		return false
	}
	svc := newAsyncFlushService(logp.NewLogger("test"), 5*time.Millisecond, time.Hour, 4, flush)
	svc.Start()
	defer svc.Shutdown()

	time.Sleep(40 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&calls), int32(1))
}

func TestAsyncFlushServiceThoroughIntervalForcesLeastPagesZero(t *testing.T) {
	var gotLeastPages int32 = -1
	flush := func(leastPages int) bool {
		atomic.StoreInt32(&gotLeastPages, int32(leastPages))
		return false
	}
	svc := newAsyncFlushService(logp.NewLogger("test"), time.Hour, time.Millisecond, 4, flush)
	svc.lastFlush = time.Now().Add(-time.Second) // force the thorough-interval branch
	svc.notify()
	svc.Start()
	defer svc.Shutdown()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gotLeastPages))
}

func TestAsyncFlushServiceShutdownStopsOnceCaughtUp(t *testing.T) {
	var calls int32
	flush := func(int) bool {
		atomic.AddInt32(&calls, 1)
		return true // nothing to do
	}
	svc := newAsyncFlushService(logp.NewLogger("test"), time.Hour, time.Hour, 4, flush)
	svc.Start()
	svc.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommitServiceWakesFlushOnSuccessfulCommit(t *testing.T) {
	commit := func(int) bool { return true }
	var woken int32
	svc := newCommitService(logp.NewLogger("test"), 5*time.Millisecond, time.Hour, 4, commit, func() { atomic.AddInt32(&woken, 1) })
	svc.Start()
	defer svc.Shutdown()

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&woken), int32(0))
}

func TestCommitServiceShutdownStopsOnceNothingCommitted(t *testing.T) {
	var calls int32
	commit := func(int) bool {
		atomic.AddInt32(&calls, 1)
		return false
	}
	svc := newCommitService(logp.NewLogger("test"), time.Hour, time.Hour, 4, commit, nil)
	svc.Start()
	svc.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
