package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CommandRecord is one executed shell command as shown in the terminal panel.
type CommandRecord struct {
	ID         string
	CreatedAt  time.Time
	Command    string
	ExitStatus int
	Stdout     string
	Stderr     string
	Error      string // set when the command could not run or timed out
	Duration   time.Duration
}
