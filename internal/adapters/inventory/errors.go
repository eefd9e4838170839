package inventory

import (
	"errors"
	"fmt"
)

// GatewayError is any failure talking to the remote inventory system:
// transport errors, non-2xx responses and remote-reported errors.
type GatewayError struct {
	Endpoint string
	Status   int
	Remote   string
	Err      error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Remote != "" && e.Status != 0:
		return fmt.Sprintf("inventory %s: status %d: %s", e.Endpoint, e.Status, e.Remote)
	case e.Remote != "":
		return fmt.Sprintf("inventory %s: remote error: %s", e.Endpoint, e.Remote)
	default:
		return fmt.Sprintf("inventory %s: %v", e.Endpoint, e.Err)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err originated at the gateway boundary.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
