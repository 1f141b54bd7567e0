package camera

import "fmt"

// AuthError indicates bad, missing, or expired camera cloud credentials.
// It is fatal for the current run; there is no retry.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera cloud auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("camera cloud auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError indicates a network or remote-service failure. The run
// aborts without marking the in-flight clip, so the next invocation
// picks it up again.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("camera cloud %s failed: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("camera cloud %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError indicates a requested camera does not exist on the account.
type NotFoundError struct {
	Camera string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("camera %q not found", e.Camera)
}
