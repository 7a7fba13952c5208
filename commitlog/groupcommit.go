package commitlog

import (
	"sync"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
)

// GroupCommitRequest is a producer's request for the group-commit service
// to flush at least through targetOffset (§4.5). It satisfies ha.Request so
// the same request can also be handed to the HA service for replication
// wait (§4.4 step 8).
type GroupCommitRequest struct {
	targetOffset uint64

	once   sync.Once
	done   chan struct{}
	result bool
}

// NewGroupCommitRequest builds a request waiting for flushed_where (or a
// replica's acknowledged offset) to reach targetOffset.
func NewGroupCommitRequest(targetOffset uint64) *GroupCommitRequest {
	return &GroupCommitRequest{targetOffset: targetOffset, done: make(chan struct{})}
}

func (r *GroupCommitRequest) TargetOffset() uint64 { return r.targetOffset }

// Complete signals waiters exactly once with the given result.
func (r *GroupCommitRequest) Complete(ok bool) {
	r.once.Do(func() {
		r.result = ok
		close(r.done)
	})
}

// Await blocks up to timeout for Complete, returning the signaled result or
// timedOut=true if the bound elapsed first.
func (r *GroupCommitRequest) Await(timeout time.Duration) (ok bool, timedOut bool) {
	select {
	case <-r.done:
		return r.result, false
	case <-time.After(timeout):
		return false, true
	}
}

// groupCommitService is the sync-flush rendezvous of §4.5: a two-list
// double buffer so producers never block the service beyond a brief
// list-append, and the service never holds the producer list while
// running completions.
type groupCommitService struct {
	logger         *logp.Logger
	pollInterval   time.Duration
	flush          func(leastPages int) bool // true = nothing to do
	flushedWhereFn func() uint64
	onCheckpoint   func()

	mu        sync.Mutex
	writeList []*GroupCommitRequest

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newGroupCommitService(logger *logp.Logger, pollInterval time.Duration, flush func(int) bool, flushedWhere func() uint64, onCheckpoint func()) *groupCommitService {
	return &groupCommitService{
		logger:         logger.Named("groupcommit"),
		pollInterval:   pollInterval,
		flush:          flush,
		flushedWhereFn: flushedWhere,
		onCheckpoint:   onCheckpoint,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// putRequest enqueues req and wakes the service.
func (s *groupCommitService) putRequest(req *GroupCommitRequest) {
	s.mu.Lock()
	s.writeList = append(s.writeList, req)
	s.mu.Unlock()
	s.notify()
}

func (s *groupCommitService) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// swap atomically takes ownership of the current write list, leaving a
// fresh empty one for producers to append to.
func (s *groupCommitService) swap() []*GroupCommitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	readList := s.writeList
	s.writeList = nil
	return readList
}

func (s *groupCommitService) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			s.doCommit()
			return
		case <-s.wake:
		case <-time.After(s.pollInterval):
		}
		s.doCommit()
	}
}

func (s *groupCommitService) doCommit() {
	readList := s.swap()
	if len(readList) == 0 {
		// Individual non-waiting messages rely on the forced flush even
		// when nothing is pending (§4.5 step 5).
		s.flush(0)
		return
	}
	for _, req := range readList {
		ok := false
		for i := 0; i < 2; i++ {
			if s.reachedTarget(req.targetOffset) {
				ok = true
				break
			}
			s.flush(0)
			if s.reachedTarget(req.targetOffset) {
				ok = true
				break
			}
		}
		req.Complete(ok)
	}
	if s.onCheckpoint != nil {
		s.onCheckpoint()
	}
}

func (s *groupCommitService) reachedTarget(target uint64) bool {
	return s.flushedWhere() >= target
}

func (s *groupCommitService) flushedWhere() uint64 {
	if s.flushedWhereFn == nil {
		return 0
	}
	return s.flushedWhereFn()
}

func (s *groupCommitService) Start() {
	go s.run()
}

func (s *groupCommitService) Shutdown() {
	close(s.stop)
	<-s.done
}
