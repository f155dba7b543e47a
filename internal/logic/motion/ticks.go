package motion

import (
	"sync"
	"time"
)

// TickSource calls a handler periodically, like a hardware timer driving
// an interrupt routine. Start replaces any running schedule. Stop may be
// called from inside the handler.
type TickSource interface {
	Start(interval time.Duration, fn func())
	Stop()
}

// TickerSource runs the handler on its own goroutine from a time.Ticker.
type TickerSource struct {
	mu   sync.Mutex
	stop chan struct{}
}

// NewTickerSource returns an idle TickerSource.
func NewTickerSource() *TickerSource {
	return &TickerSource{}
}

func (s *TickerSource) Start(interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Microsecond
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			}
		}
	}()
}

func (s *TickerSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// ManualSource only ticks when told to. It drives the coordinator in tests
// and simulations without wall-clock timing.
type ManualSource struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	running  bool
	starts   int
}

func (m *ManualSource) Start(interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	m.interval = interval
	m.running = true
	m.starts++
}

func (m *ManualSource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Tick invokes the handler once if the source is running.
func (m *ManualSource) Tick() bool {
	m.mu.Lock()
	fn, running := m.fn, m.running
	m.mu.Unlock()
	if !running || fn == nil {
		return false
	}
	fn()
	return true
}

// RunUntilStopped ticks until the handler stops the source, at most limit
// times, and returns the number of ticks delivered.
func (m *ManualSource) RunUntilStopped(limit int) int {
	n := 0
	for n < limit && m.Tick() {
		n++
	}
	return n
}

// Running reports whether the source is started.
func (m *ManualSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the interval of the last Start.
func (m *ManualSource) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Starts returns how many times Start was called.
func (m *ManualSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
