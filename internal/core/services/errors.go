package services

import (
	"errors"
	"fmt"
)

// RetryLimitError is returned when a retry request would push a scene past
// its retry ceiling. The caller escalates the scene instead of clamping.
type RetryLimitError struct {
	Scene      string
	RetryCount int
	RetryLimit int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("retry limit exceeded for scene %s: %d attempts > %d limit",
		e.Scene, e.RetryCount, e.RetryLimit)
}

// IsRetryLimitError reports whether err is a RetryLimitError, unwrapping
// as needed.
func IsRetryLimitError(err error) bool {
	var re *RetryLimitError
	return errors.As(err, &re)
}
