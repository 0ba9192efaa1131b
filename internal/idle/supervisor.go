// Package idle decides when the host should shut down because it has been
// inactive for longer than the configured idle timeout.
package idle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

const (
	// DefaultInterval is the period between evaluations.
	DefaultInterval = 30 * time.Second

	// Never disables idle shutdown.
	Never time.Duration = -1
)

// Supervisor periodically evaluates the idle state of the host.
type Supervisor struct {
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
	trim     func()
	debugger func() bool
	shutdown domain.ShutdownFunc

	mu           sync.Mutex
	timeout      time.Duration
	lastEvent    time.Time
	outstanding  int
	shuttingDown bool
	started      bool
	stopped      bool

	stop chan struct{}
	done chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithInterval sets the evaluation period.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithIdleTimeout sets the idle threshold. Use Never to disable idle
// shutdown.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithTrimFunc sets the hook run at the start of every evaluation.
func WithTrimFunc(fn func()) Option {
	return func(s *Supervisor) { s.trim = fn }
}

// WithDebuggerProbe replaces the default debugger detection.
func WithDebuggerProbe(fn func() bool) Option {
	return func(s *Supervisor) { s.debugger = fn }
}

// WithShutdownFunc sets the callback invoked once idle shutdown is decided.
func WithShutdownFunc(fn domain.ShutdownFunc) Option {
	return func(s *Supervisor) { s.shutdown = fn }
}

// New creates a stopped supervisor. Idle time is measured from now.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		clock:    clock.NewClock(),
		interval: DefaultInterval,
		timeout:  Never,
		logger:   slog.Default(),
		debugger: DebuggerAttached,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastEvent = s.clock.Now()
	return s
}

// Start begins periodic evaluation. It has no effect after Stop or when
// already started.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	go s.run(ticker)
}

func (s *Supervisor) run(ticker clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C():
			if s.isStopped() {
				return
			}
			s.Evaluate()
		}
	}
}

// Stop permanently ends periodic evaluation. It is safe to call more than
// once and from the shutdown callback.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
	if !s.started {
		close(s.done)
	}
}

// Done is closed once the evaluation loop has exited after Stop.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RequestStarted records activity and counts an outstanding request.
func (s *Supervisor) RequestStarted() {
	s.mu.Lock()
	s.outstanding++
	s.lastEvent = s.clock.Now()
	s.mu.Unlock()
}

// RequestFinished records activity and releases an outstanding request.
func (s *Supervisor) RequestFinished() {
	s.mu.Lock()
	if s.outstanding > 0 {
		s.outstanding--
	}
	s.lastEvent = s.clock.Now()
	s.mu.Unlock()
}

// SetIdleTimeout changes the idle threshold.
func (s *Supervisor) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// MarkShutdown records that shutdown was initiated elsewhere, suppressing
// idle shutdown.
func (s *Supervisor) MarkShutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
}

// Snapshot is a point-in-time view of the idle state.
type Snapshot struct {
	LastEvent    time.Time
	Outstanding  int
	IdleTimeout  time.Duration
	ShuttingDown bool
}

// Snapshot returns the current idle state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastEvent:    s.lastEvent,
		Outstanding:  s.outstanding,
		IdleTimeout:  s.timeout,
		ShuttingDown: s.shuttingDown,
	}
}

// Evaluate runs one idle check and reports whether it initiated shutdown.
func (s *Supervisor) Evaluate() bool {
	if s.trim != nil {
		s.trim()
	}

	idleFor, ok := s.idle()
	if !ok {
		return false
	}
	if s.debugger != nil && s.debugger() {
		s.logger.Debug("idle shutdown suspended while a debugger is attached")
		return false
	}

	// Activity may have arrived while the debugger was checked.
	s.mu.Lock()
	if _, ok := s.idleLocked(); !ok {
		s.mu.Unlock()
		return false
	}
	s.shuttingDown = true
	timeout := s.timeout
	s.mu.Unlock()

	msg := fmt.Sprintf("idle for %s, exceeding the idle timeout of %s", idleFor.Round(time.Second), timeout)
	s.logger.Info("initiating idle shutdown",
		slog.Duration("idle", idleFor),
		slog.Duration("idle_timeout", timeout))
	if s.shutdown != nil {
		s.shutdown(domain.ShutdownIdleTimeout, msg)
	}
	return true
}

func (s *Supervisor) idle() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLocked()
}

// idleLocked reports how long the host has been idle and whether that
// qualifies for shutdown.
func (s *Supervisor) idleLocked() (time.Duration, bool) {
	if s.timeout == Never || s.shuttingDown || s.outstanding != 0 {
		return 0, false
	}
	elapsed := s.clock.Since(s.lastEvent)
	if elapsed <= s.timeout {
		return elapsed, false
	}
	return elapsed, true
}
