package roomcast

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrProtocol          = errors.New("protocol error")
	ErrTransport         = errors.New("transport error")
	ErrChannelLost       = errors.New("channel lost")
	ErrDuplicateRoom     = errors.New("room already active")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomNotAdvertised = errors.New("room not advertised by server")
	ErrMessageTooLarge   = errors.New("message exceeds maximum datagram size")
	ErrSessionClosed     = errors.New("session closed")
	ErrSessionNotStarted = errors.New("session not started")
	ErrNoRoomSelected    = errors.New("no room selected")
	ErrEmptyMessage      = errors.New("empty message")
)

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func ErrRoomListMismatch(ids, headers int) error {
	return fmt.Errorf("%w: %d room ids but %d headers", ErrProtocol, ids, headers)
}

func ErrInvalidRoomID(token string) error {
	return fmt.Errorf("%w: room id %q is not an integer", ErrProtocol, token)
}
