package detector

import (
	"sync"
	"time"
)

// AlarmState is the shared suppression window. It is safe for concurrent use:
// the capture loop arms it and a timer goroutine expires it.
type AlarmState struct {
	// cooldown is the suppression duration applied by each Arm.
	cooldown time.Duration
	// onChange is called with the new suppressed flag after every transition.
	onChange func(suppressed bool)

	// mu guards every field below.
	mu         sync.Mutex
	suppressed bool
	resumeAt   time.Time
	timer      *time.Timer
	// generation invalidates expiry callbacks of stopped timers.
	generation uint64
}

// StateOption configures an AlarmState.
type StateOption func(*AlarmState)

// WithTransitionHook registers fn to observe ARMED/SUPPRESSED transitions.
// fn runs outside the state lock.
func WithTransitionHook(fn func(suppressed bool)) StateOption {
	return func(s *AlarmState) {
		s.onChange = fn
	}
}

// NewAlarmState returns an armed state with the given cooldown.
func NewAlarmState(cooldown time.Duration, opts ...StateOption) *AlarmState {
	s := &AlarmState{
		cooldown: cooldown,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Cooldown returns the suppression duration.
func (s *AlarmState) Cooldown() time.Duration {
	return s.cooldown
}

// Suppressed reports whether detection is currently suppressed.
func (s *AlarmState) Suppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.suppressed
}

// Snapshot returns the suppressed flag and the time detection resumes.
// resumeAt is meaningless while not suppressed.
func (s *AlarmState) Snapshot() (suppressed bool, resumeAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.suppressed, s.resumeAt
}

// Arm moves ARMED to SUPPRESSED and schedules expiry cooldown from now.
// It returns false, changing nothing, when the state is already suppressed.
func (s *AlarmState) Arm(now time.Time) bool {
	s.mu.Lock()

	if s.suppressed {
		s.mu.Unlock()
		return false
	}

	s.arm(now)
	s.mu.Unlock()

	s.notify(true)

	return true
}

// arm must be called with mu held.
func (s *AlarmState) arm(now time.Time) {
	if s.timer != nil {
		s.timer.Stop()
	}

	s.generation++
	generation := s.generation

	s.suppressed = true
	s.resumeAt = now.Add(s.cooldown)
	s.timer = time.AfterFunc(s.cooldown, func() {
		s.expire(generation)
	})
}

// expire re-arms detection if the firing timer is still the current one.
func (s *AlarmState) expire(generation uint64) {
	s.mu.Lock()

	if generation != s.generation || !s.suppressed {
		s.mu.Unlock()
		return
	}

	s.suppressed = false
	s.resumeAt = time.Time{}
	s.timer = nil
	s.mu.Unlock()

	s.notify(false)
}

// Stop cancels a pending expiry. The state keeps its current flag.
func (s *AlarmState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *AlarmState) notify(suppressed bool) {
	if s.onChange != nil {
		s.onChange(suppressed)
	}
}
