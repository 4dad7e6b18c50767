package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobStartShow               JobKind = "startShow"
	JobCompleteShow            JobKind = "completeShow"
	JobReleaseExpiredSeatHolds JobKind = "releaseExpiredSeatHolds"
	JobCancelPendingBooking    JobKind = "cancelPendingBooking"
	JobExpireMoviePass         JobKind = "expireMoviePass"
)

// ShowJobKinds are the kinds keyed by a show id.
var ShowJobKinds = []JobKind{JobStartShow, JobCompleteShow, JobReleaseExpiredSeatHolds}

func (k JobKind) Valid() bool {
	switch k {
	case JobStartShow, JobCompleteShow, JobReleaseExpiredSeatHolds, JobCancelPendingBooking, JobExpireMoviePass:
		return true
	}
	return false
}

type JobStatus string

const (
	JobScheduled JobStatus = "SCHEDULED"
	JobFired     JobStatus = "FIRED"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobScheduled: {JobFired, JobCancelled},
	// FIRED -> FIRED is a lease re-claim after a worker died mid-job.
	JobFired: {JobFired, JobSucceeded, JobFailed},
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Job struct {
	ID         uuid.UUID
	Kind       JobKind
	Key        string
	FireAt     time.Time
	Payload    json.RawMessage
	Status     JobStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	FiredAt    *time.Time
	FinishedAt *time.Time
}

func NewJob(kind JobKind, key string, fireAt time.Time, payload any) (Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Job{}, err
		}
		raw = b
	}
	return Job{
		ID:        uuid.New(),
		Kind:      kind,
		Key:       key,
		FireAt:    fireAt,
		Payload:   raw,
		Status:    JobScheduled,
		CreatedAt: time.Now(),
	}, nil
}
