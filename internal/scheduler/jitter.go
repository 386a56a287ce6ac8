package scheduler

import "math/rand"

// Jitter fields, in the order the random pick indexes them.
const (
	FieldMemories = "memories"
	FieldTasks    = "tasks"
	FieldEmailsIn = "emailsIn"
)

// JitterFields is the fixed set of counters the jitter task may nudge.
var JitterFields = []string{FieldMemories, FieldTasks, FieldEmailsIn}

// RandSource yields uniform values in [0, 1). Implementations must be safe
// for concurrent use.
type RandSource interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// jitter simulates liveness between full refreshes. With the configured
// probability it picks one counter and nudges it: memories only ever grow
// (half the time by one), while tasks and emails go up 30% of the time and
// down otherwise. The sink clamps at zero.
func (s *Scheduler) jitter() {
	if s.rng.Float64() >= s.cfg.JitterProbability {
		return
	}

	idx := int(s.rng.Float64() * float64(len(JitterFields)))
	if idx >= len(JitterFields) {
		idx = len(JitterFields) - 1
	}
	field := JitterFields[idx]

	var delta int
	switch field {
	case FieldMemories:
		if s.rng.Float64() > 0.5 {
			delta = 1
		}
	default:
		if s.rng.Float64() > 0.7 {
			delta = 1
		} else {
			delta = -1
		}
	}
	if delta == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.sink.MutateField(field, delta)
}
