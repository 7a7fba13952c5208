package commitlog

import (
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
)

// asyncFlushService runs when sync mode is off and the transient pool is
// disabled: every flushInterval it calls flush(leastPages), overriding
// leastPages to 0 once thoroughInterval has elapsed since the last flush
// (§4.6).
type asyncFlushService struct {
	logger           *logp.Logger
	interval         time.Duration
	thoroughInterval time.Duration
	leastPages       int
	flush            func(leastPages int) bool

	lastFlush time.Time
	stop      chan struct{}
	wake      chan struct{}
	done      chan struct{}
}

func newAsyncFlushService(logger *logp.Logger, interval, thoroughInterval time.Duration, leastPages int, flush func(int) bool) *asyncFlushService {
	return &asyncFlushService{
		logger:           logger.Named("flush"),
		interval:         interval,
		thoroughInterval: thoroughInterval,
		leastPages:       leastPages,
		flush:            flush,
		lastFlush:        time.Now(),
		stop:             make(chan struct{}),
		wake:             make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

func (s *asyncFlushService) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *asyncFlushService) Start() {
	go s.run()
}

func (s *asyncFlushService) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.shutdownFlush()
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.tick()
	}
}

func (s *asyncFlushService) tick() {
	leastPages := s.leastPages
	if time.Since(s.lastFlush) >= s.thoroughInterval {
		leastPages = 0
	}
	if !s.flush(leastPages) {
		s.lastFlush = time.Now()
	}
}

// shutdownFlush retries flush(0) up to 10 times, stopping as soon as flush
// reports nothing left to do.
func (s *asyncFlushService) shutdownFlush() {
	for i := 0; i < 10; i++ {
		if s.flush(0) {
			return
		}
	}
}

func (s *asyncFlushService) Shutdown() {
	close(s.stop)
	<-s.done
}

// commitService runs when the transient pool is enabled: every
// commitInterval it copies buffered pages into the mapped region, waking
// the flush service whenever it actually committed something (§4.6).
type commitService struct {
	logger           *logp.Logger
	interval         time.Duration
	thoroughInterval time.Duration
	leastPages       int
	commit           func(leastPages int) bool // true = data was committed
	wakeFlush        func()

	lastCommit time.Time
	stop       chan struct{}
	wake       chan struct{}
	done       chan struct{}
}

func newCommitService(logger *logp.Logger, interval, thoroughInterval time.Duration, leastPages int, commit func(int) bool, wakeFlush func()) *commitService {
	return &commitService{
		logger:           logger.Named("commit"),
		interval:         interval,
		thoroughInterval: thoroughInterval,
		leastPages:       leastPages,
		commit:           commit,
		wakeFlush:        wakeFlush,
		lastCommit:       time.Now(),
		stop:             make(chan struct{}),
		wake:             make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

func (s *commitService) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *commitService) Start() {
	go s.run()
}

func (s *commitService) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.shutdownCommit()
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.tick()
	}
}

func (s *commitService) tick() {
	leastPages := s.leastPages
	if time.Since(s.lastCommit) >= s.thoroughInterval {
		leastPages = 0
	}
	if s.commit(leastPages) {
		s.lastCommit = time.Now()
		if s.wakeFlush != nil {
			s.wakeFlush()
		}
	}
}

func (s *commitService) shutdownCommit() {
	for i := 0; i < 10; i++ {
		if !s.commit(0) {
			return
		}
	}
}

func (s *commitService) Shutdown() {
	close(s.stop)
	<-s.done
}
