package connectors

import (
	"fmt"
	"time"
)

// ThrottleError сигнализирует ReliabilityWrapper'у, что доменная система
// попросила подождать (Retry-After), и задержка ретрая должна быть честной
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
