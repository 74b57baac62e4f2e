package aiagent

import "fmt"

// Error describes a failed call to the AI backend.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("aiagent %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("aiagent %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
