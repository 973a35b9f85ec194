package board

// UndoStack holds the inverse events of one user's local edits. Pushing a
// new edit clears the redo side; undo and redo move entries between the two
// sides. Consecutive fresh edits are folded so a continuous drag is one
// step; entries moved by undo and redo are never folded, so n undos always
// leave n redo steps.
type UndoStack struct {
	undo  []Event
	redo  []Event
	limit int
}

// NewUndoStack returns an empty stack keeping at most limit undo steps
// (0 means unbounded).
func NewUndoStack(limit int) *UndoStack {
	return &UndoStack{limit: limit}
}

// Record pushes the inverse of a fresh local edit and clears redo.
func (s *UndoStack) Record(inv Event) {
	s.undo = s.trim(fold(s.undo, inv))
	s.redo = nil
}

// PushUndo pushes the inverse of a redone step.
func (s *UndoStack) PushUndo(inv Event) {
	s.undo = s.trim(append(s.undo, inv))
}

// PushRedo pushes the inverse of an undone step.
func (s *UndoStack) PushRedo(inv Event) {
	s.redo = append(s.redo, inv)
}

func (s *UndoStack) trim(stack []Event) []Event {
	if s.limit > 0 && len(stack) > s.limit {
		return append([]Event(nil), stack[len(stack)-s.limit:]...)
	}
	return stack
}

func (s *UndoStack) PopUndo() (Event, bool) { return pop(&s.undo) }

func (s *UndoStack) PopRedo() (Event, bool) { return pop(&s.redo) }

// TopUndo returns the next undo step without removing it.
func (s *UndoStack) TopUndo() (Event, bool) { return top(s.undo) }

func (s *UndoStack) TopRedo() (Event, bool) { return top(s.redo) }

func (s *UndoStack) CanUndo() bool { return len(s.undo) > 0 }

func (s *UndoStack) CanRedo() bool { return len(s.redo) > 0 }

func (s *UndoStack) Clear() {
	s.undo, s.redo = nil, nil
}

// fold merges inv into the top of the stack. inv will be replayed before
// the current top, so it is the first argument to Fold.
func fold(stack []Event, inv Event) []Event {
	if n := len(stack); n > 0 {
		if merged, ok := Fold(inv, stack[n-1]); ok {
			stack[n-1] = merged
			return stack
		}
	}
	return append(stack, inv)
}

func top(stack []Event) (Event, bool) {
	if len(stack) == 0 {
		return Event{}, false
	}
	return stack[len(stack)-1], true
}

func pop(stack *[]Event) (Event, bool) {
	n := len(*stack)
	if n == 0 {
		return Event{}, false
	}
	ev := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return ev, true
}
