package peer

import "errors"

var (
	ErrTimeout      = errors.New("peer: timed out")
	ErrRejected     = errors.New("peer: connection rejected")
	ErrDisposed     = errors.New("peer: disposed")
	ErrBadSignature = errors.New("peer: bad signature")
	ErrNotConnected = errors.New("peer: not connected")
)
