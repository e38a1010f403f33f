package mcp

import (
	"errors"
	"strconv"
)

var (
	ErrAlreadyConnected = errors.New("server already connected")
	ErrNotConnected     = errors.New("server not connected")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrServerUnknown    = errors.New("unknown server")
)

// RemoteError carries a JSON-RPC error payload returned by a tool server.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == 0 {
		return e.Message
	}
	return e.Message + " (code " + strconv.Itoa(e.Code) + ")"
}
