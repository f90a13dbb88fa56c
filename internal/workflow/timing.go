package workflow

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Timings holds wall clock durations of the stages of one Process call.
type Timings struct {
	Scale    time.Duration
	Detect   time.Duration
	Annotate time.Duration
	Draw     time.Duration
	Total    time.Duration
}

// Fields returns the timings as log fields.
func (t Timings) Fields() logrus.Fields {
	return logrus.Fields{
		"scale":    t.Scale,
		"detect":   t.Detect,
		"annotate": t.Annotate,
		"draw":     t.Draw,
		"total":    t.Total,
	}
}

// stopwatch measures consecutive stages.
type stopwatch struct {
	start time.Time
	lap   time.Time
}

func newStopwatch() *stopwatch {
	now := time.Now()
	return &stopwatch{start: now, lap: now}
}

// Lap returns the time since the previous lap.
func (s *stopwatch) Lap() time.Duration {
	now := time.Now()
	d := now.Sub(s.lap)
	s.lap = now
	return d
}

func (s *stopwatch) Total() time.Duration {
	return time.Since(s.start)
}
