package core

import "errors"

var (
	ErrNotConnected      = errors.New("not connected to server")
	ErrSendFailed        = errors.New("send failed")
	ErrInvalidEndpoint   = errors.New("invalid websocket endpoint")
	ErrManagerClosed     = errors.New("manager closed")
	ErrUnexpectedPayload = errors.New("unexpected notification payload")
)
