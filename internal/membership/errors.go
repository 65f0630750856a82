package membership

import "errors"

var (
	// ErrUnauthorized is returned when a privileged call comes from anyone
	// but the configured operator.
	ErrUnauthorized = errors.New("membership: caller is not the operator")
	// ErrInvalidSubscriber rejects non-positive chat user ids.
	ErrInvalidSubscriber = errors.New("membership: invalid subscriber id")
)
