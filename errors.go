package chanstore

import (
	"errors"

	"github.com/DobryySoul/chanstore/internal/transport"
)

var (
	// ErrInvalidKey indicates an empty key, or one that is not valid UTF-8,
	// was passed to Get, Set or Remove.
	ErrInvalidKey = errors.New("chanstore: invalid key")
	// ErrInvalidValue indicates a value that is not valid UTF-8.
	ErrInvalidValue = errors.New("chanstore: invalid value")
	// ErrDestroyed indicates that the store has been destroyed.
	ErrDestroyed = errors.New("chanstore: store is destroyed")
	// ErrTimeout indicates that the context deadline expired.
	ErrTimeout = errors.New("chanstore: operation timed out")
	// ErrCanceled indicates that the context was canceled.
	ErrCanceled = errors.New("chanstore: operation canceled")
	// ErrListenerNotComparable indicates a listener that cannot be matched
	// by identity, such as a struct value holding a func or slice.
	ErrListenerNotComparable = errors.New("chanstore: listener is not comparable")
	// ErrBusClosed is returned by a Channel used after Close.
	ErrBusClosed = transport.ErrClosed
)
