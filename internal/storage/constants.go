package storage

import "errors"

const (
	// DefaultMaxEntries is the retention ceiling when none is configured.
	DefaultMaxEntries = 10000

	// MaxTagLength bounds user-assigned labels.
	MaxTagLength = 128

	// NoLimit is passed to the database when a list is unbounded but offset.
	NoLimit = 1<<31 - 1
)

var (
	ErrEmptyTag    = errors.New("tag must not be empty")
	ErrTagTooLong  = errors.New("tag exceeds maximum length")
	ErrInvalidKind = errors.New("invalid entry kind")
)
