package store

import "errors"

var (
	ErrNotFound   = errors.New("record not found")
	ErrBadPayload = errors.New("record payload is not valid JSON")
)
