package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTransport        = errors.New("transport error")
	ErrNotLeader        = errors.New("leader lease held by another instance")
)
