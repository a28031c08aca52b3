package task

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrTaskNotFound  = errors.New("task not found")
)

// ThrottledError is returned when a task is inside a provider penalty window
// and has no cached value to serve.
type ThrottledError struct {
	TaskID     string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("task %s is throttled, retry after %s", e.TaskID, e.RetryAfter)
}
