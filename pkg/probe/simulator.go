package probe

import (
	"context"
	"sync"
	"time"
)

// SimResult is the outcome of one simulated debug attempt.
type SimResult struct {
	OpenErr  error
	ResetErr error
}

// SimHook lets tests decide the outcome of attempt n (0-based).
type SimHook func(attempt int) SimResult

// SimCounts reports what the simulator has been asked to do.
type SimCounts struct {
	Opens      int
	Resets     int
	Closes     int
	MaxOpen    int // highest number of simultaneously open sessions
	OpenNow    int
	Unbalanced int // Close calls on sessions that were already closed
}

// SimProber is an in-memory Prober useful for tests and dry runs. Attempts
// consume Script in order, then OnAttempt if set, then Default.
type SimProber struct {
	Script    []SimResult
	OnAttempt SimHook
	Default   SimResult

	// Latency is how long each Open takes, bounding the attempt rate the way
	// probe I/O does on real hardware.
	Latency time.Duration

	mu      sync.Mutex
	attempt int
	counts  SimCounts
}

// LockedResult is what a locked target looks like to a debug attempt.
func LockedResult() SimResult {
	return SimResult{OpenErr: newError(KindResourceMissing, "find AHB-AP", nil)}
}

// NewSimProber returns a simulator that always reports a locked target.
func NewSimProber() *SimProber {
	return &SimProber{Default: LockedResult()}
}

// Counts returns a snapshot of the call counters.
func (s *SimProber) Counts() SimCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *SimProber) next() SimResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.attempt
	s.attempt++
	if n < len(s.Script) {
		return s.Script[n]
	}
	if s.OnAttempt != nil {
		return s.OnAttempt(n)
	}
	return s.Default
}

func (s *SimProber) Open(ctx context.Context, target Target) (Session, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, newError(KindUnknown, "open", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "open", err)
	}

	result := s.next()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Opens++
	if result.OpenErr != nil {
		return nil, result.OpenErr
	}
	s.counts.OpenNow++
	if s.counts.OpenNow > s.counts.MaxOpen {
		s.counts.MaxOpen = s.counts.OpenNow
	}
	return &simSession{sim: s, resetErr: result.ResetErr}, nil
}

type simSession struct {
	sim      *SimProber
	resetErr error
	closed   bool
}

func (s *simSession) ResetTarget(ctx context.Context) error {
	s.sim.mu.Lock()
	s.sim.counts.Resets++
	s.sim.mu.Unlock()
	return s.resetErr
}

func (s *simSession) Close() error {
	s.sim.mu.Lock()
	defer s.sim.mu.Unlock()
	s.sim.counts.Closes++
	if s.closed {
		s.sim.counts.Unbalanced++
		return nil
	}
	s.closed = true
	s.sim.counts.OpenNow--
	return nil
}
