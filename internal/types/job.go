package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type JobKind string

const (
	JobReminder   JobKind = "REMINDER"
	JobExpiration JobKind = "EXPIRATION"
	JobFollowUp   JobKind = "FOLLOWUP"
)

// JobID derives the identifier of a job from its kind and the entry id of the
// transaction it belongs to. Any component that knows the entry id can address
// the job with it, so there is no registry of scheduled jobs.
func JobID(kind JobKind, externalEntryID string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(string(kind)), externalEntryID)
}

type JobPayload struct {
	OwnerID         int64           `json:"ownerId"`
	ExternalEntryID string          `json:"externalEntryId"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status,omitempty"`
}

type Job struct {
	ID      string
	Kind    JobKind
	Payload JobPayload
	// Attempt is the number of previous failed runs of the job.
	Attempt int
	DueAt   time.Time
}

// FailedJob describes a job that exhausted its attempts and was moved to the
// dead letter list.
type FailedJob struct {
	ID       string     `json:"id"`
	Kind     JobKind    `json:"kind"`
	Payload  JobPayload `json:"payload"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error"`
	FailedAt time.Time  `json:"failedAt"`
}
