// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a malformed request that was rejected before
// entering the event log.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates a concurrent modification lost a race with another
// request.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrReplayTooOld indicates the requested afterSeq predates retained history.
// Clients must fall back to a snapshot fetch.
var ErrReplayTooOld = errors.New("replay too old: sequence predates retained history")

// ErrSessionClosed indicates the session no longer accepts new work.
var ErrSessionClosed = errors.New("session is closed")

// ErrPermissionPending indicates a permission request is already open for the
// session; only one may be pending at a time.
var ErrPermissionPending = errors.New("a permission request is already pending")
