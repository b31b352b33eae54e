package sink

import "errors"

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink closed")
