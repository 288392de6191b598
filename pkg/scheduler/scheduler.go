package scheduler

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyScheduled is returned when a sequence for the key is still active.
	ErrAlreadyScheduled = errors.New("sequence already scheduled")
	// ErrCapacity is returned when the scheduler holds its maximum number of sequences.
	ErrCapacity = errors.New("scheduler at capacity")
)

// Stage is one delayed step of a sequence. Offset is measured from the moment the
// sequence was scheduled, not from the previous stage.
type Stage struct {
	Offset time.Duration
	Run    func()
}

type sequence struct {
	start     time.Time
	stages    []Stage
	next      int
	timer     Timer
	cancelled bool
}

// Scheduler runs keyed sequences of stages. Stages of one sequence run strictly in
// order: the timer for a stage is armed only after the previous stage returned.
type Scheduler struct {
	clock        Clock
	maxSequences int

	mu        sync.Mutex
	sequences map[string]*sequence
}

type Option func(*Scheduler)

func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithMaxSequences bounds the number of concurrently active sequences. Zero means unbounded.
func WithMaxSequences(n int) Option {
	return func(s *Scheduler) {
		s.maxSequences = n
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     RealClock{},
		sequences: make(map[string]*sequence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Schedule starts a new sequence under key.
func (s *Scheduler) Schedule(key string, stages []Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sequences[key]; ok {
		return ErrAlreadyScheduled
	}
	if s.maxSequences > 0 && len(s.sequences) >= s.maxSequences {
		return ErrCapacity
	}
	if len(stages) == 0 {
		return nil
	}

	seq := &sequence{
		start:  s.clock.Now(),
		stages: append([]Stage(nil), stages...),
	}
	s.sequences[key] = seq
	s.arm(key, seq)
	return nil
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(key string, seq *sequence) {
	stage := seq.stages[seq.next]
	delay := seq.start.Add(stage.Offset).Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	seq.timer = s.clock.AfterFunc(delay, func() { s.fire(key, seq) })
}

func (s *Scheduler) fire(key string, seq *sequence) {
	s.mu.Lock()
	if seq.cancelled || s.sequences[key] != seq {
		s.mu.Unlock()
		return
	}
	stage := seq.stages[seq.next]
	seq.next++
	seq.timer = nil
	s.mu.Unlock()

	stage.Run()

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq.cancelled {
		return
	}
	if seq.next >= len(seq.stages) {
		delete(s.sequences, key)
		return
	}
	s.arm(key, seq)
}

// Cancel drops the stages of key that have not fired yet. A stage that is already
// running completes. It reports whether a sequence was active.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[key]
	if !ok {
		return false
	}
	s.cancel(key, seq)
	return true
}

func (s *Scheduler) cancel(key string, seq *sequence) {
	seq.cancelled = true
	if seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
	delete(s.sequences, key)
}

// Pending returns the number of stages of key that have not started.
func (s *Scheduler) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[key]
	if !ok {
		return 0
	}
	return len(seq.stages) - seq.next
}

func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sequences[key]
	return ok
}

// Len returns the number of active sequences.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sequences)
}

// Close cancels every active sequence.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, seq := range s.sequences {
		s.cancel(key, seq)
	}
}
