package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention is the number of deliveries kept; 0 keeps everything.
	Retention int
}

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
	OutcomeDropped = "dropped"
)

// Delivery is one journaled batch outcome.
type Delivery struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Kind    string    `json:"kind"`
	Records int       `json:"records"`
	Chars   int       `json:"chars"`
	Error   string    `json:"error,omitempty"`
}
