package chat

import "errors"

// ErrInvalidInput marks a request rejected before any work is done,
// such as an empty query.
var ErrInvalidInput = errors.New("invalid input")
