// Package playback schedules decoded model speech for gapless output.
//
// A [Scheduler] chains buffers back-to-back on an [Output] clock: every
// buffer starts exactly where the previous one ends, or now if the cursor has
// fallen behind. [Scheduler.Interrupt] silences everything on barge-in.
//
// [Graph] is the software [Output] used on a real sound card: the device's
// pull callback renders it block by block, which also advances its clock.
package playback

import (
	"time"

	"github.com/MrWong99/healthguide/pkg/audio"
)

// Activity is the speaking state derived from the set of playing buffers.
type Activity int

const (
	// Listening means no model audio is playing.
	Listening Activity = iota

	// Speaking means at least one buffer is scheduled or playing.
	Speaking
)

// String returns the human-readable name of the activity.
func (a Activity) String() string {
	switch a {
	case Listening:
		return "LISTENING"
	case Speaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Voice is one scheduled buffer on an [Output].
type Voice interface {
	// Stop silences the voice immediately. Its end notification never fires.
	Stop()
}

// Output plays buffers at absolute times on its own clock.
type Output interface {
	// Now returns the current output clock.
	Now() time.Duration

	// Start schedules buf to begin at at. onEnded is called once, from the
	// output's goroutine, after the last sample has played.
	Start(buf audio.Buffer, at time.Duration, onEnded func()) Voice
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithDispatch sets the function that moves end-of-playback notifications
// onto the scheduler owner's goroutine. The default runs them inline.
func WithDispatch(dispatch func(func())) Option {
	return func(s *Scheduler) {
		if dispatch != nil {
			s.dispatch = dispatch
		}
	}
}

// WithActivity registers a callback for Listening/Speaking reports.
func WithActivity(fn func(Activity)) Option {
	return func(s *Scheduler) { s.onActivity = fn }
}

// Scheduler is the gapless playback queue. It is owned by a single goroutine
// and is not safe for concurrent use: every method, and every function handed
// to the dispatch option, must run on that goroutine.
type Scheduler struct {
	out        Output
	dispatch   func(func())
	onActivity func(Activity)

	// The cursor is runStart plus runFrames at runRate. Counting frames keeps
	// buffer boundaries sample-exact however long the run gets.
	runStart  time.Duration
	runFrames int64
	runRate   int
	next      time.Duration

	seq    uint64
	active map[uint64]Voice
}

// NewScheduler returns a scheduler playing through out.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		dispatch: func(fn func()) { fn() },
		active:   make(map[uint64]Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues buf immediately after everything already scheduled, or at
// the current output time if the queue has drained. It returns the start time.
func (s *Scheduler) Schedule(buf audio.Buffer) time.Duration {
	if now := s.out.Now(); now > s.next || buf.SampleRate != s.runRate {
		s.runStart = max(s.next, now)
		s.runFrames = 0
		s.runRate = buf.SampleRate
	}
	startAt := s.runStart + audio.FramesToDuration(s.runFrames, s.runRate)

	s.seq++
	id := s.seq
	wasIdle := len(s.active) == 0

	// An output may end the voice before Start returns.
	s.active[id] = nil
	v := s.out.Start(buf, startAt, func() {
		s.dispatch(func() { s.finished(id) })
	})
	if _, ok := s.active[id]; ok {
		s.active[id] = v
	}
	s.runFrames += int64(buf.Frames())
	s.next = s.runStart + audio.FramesToDuration(s.runFrames, s.runRate)

	if wasIdle && len(s.active) > 0 {
		s.report(Speaking)
	}
	return startAt
}

// Interrupt stops every scheduled buffer, resets the cursor and reports
// Listening. It returns the number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	n := len(s.active)
	for id, v := range s.active {
		if v != nil {
			v.Stop()
		}
		delete(s.active, id)
	}
	s.next, s.runStart, s.runFrames = 0, 0, 0
	s.report(Listening)
	return n
}

// NextStartTime returns the cursor: the time at which the next buffer would
// start if the output clock is behind it.
func (s *Scheduler) NextStartTime() time.Duration { return s.next }

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int { return len(s.active) }

func (s *Scheduler) finished(id uint64) {
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	if len(s.active) == 0 {
		s.report(Listening)
	}
}

func (s *Scheduler) report(a Activity) {
	if s.onActivity != nil {
		s.onActivity(a)
	}
}
