package logic

import "errors"

// ErrNilSeenStore is returned when a SeenTracker has no backing store.
var ErrNilSeenStore = errors.New("seen store is nil")

// ErrEmptyKey is returned when a seen record is missing its viewer or ad.
var ErrEmptyKey = errors.New("viewer key and ad id are required")
