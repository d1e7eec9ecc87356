package statemachine

// History is an append-only value of applied steps. Append and Rollback
// return new values, so two goroutines holding the same History never
// observe each other's changes.
type History struct {
	steps []Step
}

func (h History) Append(s Step) History {
	steps := make([]Step, len(h.steps), len(h.steps)+1)
	copy(steps, h.steps)
	return History{steps: append(steps, s)}
}

// Rollback pops the last step and returns the pair it started from.
func (h History) Rollback() (State, History, bool) {
	if len(h.steps) == 0 {
		return State{}, h, false
	}
	last := h.steps[len(h.steps)-1]
	return last.Undo(), History{steps: h.steps[:len(h.steps)-1 : len(h.steps)-1]}, true
}

func (h History) Last() (Step, bool) {
	if len(h.steps) == 0 {
		return Step{}, false
	}
	return h.steps[len(h.steps)-1], true
}

func (h History) Len() int {
	return len(h.steps)
}

func (h History) Steps() []Step {
	out := make([]Step, len(h.steps))
	copy(out, h.steps)
	return out
}
