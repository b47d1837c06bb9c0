package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into fallback behavior.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: key or record does not exist in the store
// - ErrExpired: token or record has passed its TTL
// - ErrConflict: concurrent write landed first
// - ErrInvalidState: record in wrong state for requested operation
// - ErrUnavailable: store or resource temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
