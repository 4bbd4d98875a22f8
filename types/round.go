package types

import (
	"fmt"
	"strings"
)

// RoundStatus is the lifecycle status of a round as reported by the ledger.
type RoundStatus uint8

const (
	StatusWaitingValidator RoundStatus = iota
	StatusWaitingTrainers
	StatusTraining
	StatusValidating
	StatusCompleted
	StatusCancelled
	StatusExpired
)

var statusNames = [...]string{
	StatusWaitingValidator: "waitingValidator",
	StatusWaitingTrainers:  "waitingTrainers",
	StatusTraining:         "training",
	StatusValidating:       "validating",
	StatusCompleted:        "completed",
	StatusCancelled:        "cancelled",
	StatusExpired:          "expired",
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []RoundStatus{
	StatusWaitingValidator,
	StatusWaitingTrainers,
	StatusTraining,
	StatusValidating,
	StatusCompleted,
	StatusCancelled,
	StatusExpired,
}

func (s RoundStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("RoundStatus(%d)", uint8(s))
}

// ParseRoundStatus accepts the ledger's camelCase names, case-insensitively.
func ParseRoundStatus(s string) (RoundStatus, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, s) {
			return RoundStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s RoundStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *RoundStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseRoundStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transition can happen.
func (s RoundStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	case StatusWaitingValidator, StatusWaitingTrainers, StatusTraining, StatusValidating:
		return false
	}
	return false
}

// IsAbortable reports whether a validator may cancel a round in this status.
func (s RoundStatus) IsAbortable() bool {
	switch s {
	case StatusWaitingTrainers, StatusTraining, StatusValidating:
		return true
	case StatusWaitingValidator, StatusCompleted, StatusCancelled, StatusExpired:
		return false
	}
	return false
}

// IsActive reports whether the round is claimed and still running.
func (s RoundStatus) IsActive() bool {
	return s.IsAbortable()
}

// Round is a snapshot of a training round fetched from the ledger.
type Round struct {
	ID               uint64      `json:"id"`
	Status           RoundStatus `json:"status"`
	Dataset          string      `json:"dataset"`
	RewardAmount     Amount      `json:"reward_amount"`
	TrainersCount    uint32      `json:"trainers_count"`
	SubmissionsCount uint32      `json:"submissions_count"`
	Creator          string      `json:"creator"`
	Validator        string      `json:"validator,omitempty"`
}

// Claimed reports whether any validator owns the round.
func (r *Round) Claimed() bool {
	return r.Validator != ""
}

// SubmissionsConsistent reports whether submissions do not exceed trainers.
// Violations are tolerated by the engine and only logged.
func (r *Round) SubmissionsConsistent() bool {
	return r.SubmissionsCount <= r.TrainersCount
}
