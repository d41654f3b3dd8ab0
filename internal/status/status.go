// Package status is the transition table for every status-bearing entity.
// It is pure: no I/O, no clock, just a lookup and a typed error, so it can be
// tested against every (from, to) pair.
package status

import (
	"gigline/internal/apperr"
)

type Entity string

const (
	Job      Entity = "job"
	Proposal Entity = "proposal"
	Contract Entity = "contract"
)

const (
	JobDraft      = "draft"
	JobPublished  = "published"
	JobInReview   = "in_review"
	JobContracted = "contracted"
	JobCompleted  = "completed"
	JobClosed     = "closed"

	ProposalSubmitted   = "submitted"
	ProposalShortlisted = "shortlisted"
	ProposalAccepted    = "accepted"
	ProposalRejected    = "rejected"
	ProposalWithdrawn   = "withdrawn"

	ContractActive     = "active"
	ContractInProgress = "in_progress"
	ContractDelivered  = "delivered"
	ContractCompleted  = "completed"
	ContractCanceled   = "canceled"
)

var transitions = map[Entity]map[string][]string{
	Job: {
		JobDraft:      {JobPublished, JobClosed},
		JobPublished:  {JobInReview, JobContracted, JobClosed},
		JobInReview:   {JobPublished, JobClosed},
		JobContracted: {JobCompleted, JobClosed},
		JobCompleted:  {},
		JobClosed:     {},
	},
	Proposal: {
		ProposalSubmitted:   {ProposalShortlisted, ProposalAccepted, ProposalRejected, ProposalWithdrawn},
		ProposalShortlisted: {ProposalAccepted, ProposalRejected, ProposalWithdrawn},
		ProposalAccepted:    {},
		ProposalRejected:    {},
		ProposalWithdrawn:   {},
	},
	Contract: {
		ContractActive:     {ContractInProgress, ContractCanceled},
		ContractInProgress: {ContractDelivered, ContractCanceled},
		ContractDelivered:  {ContractCompleted, ContractCanceled},
		ContractCompleted:  {},
		ContractCanceled:   {},
	},
}

// Known reports whether s is a valid status for the entity.
func Known(entity Entity, s string) bool {
	_, ok := transitions[entity][s]
	return ok
}

// Statuses returns every valid status for the entity.
func Statuses(entity Entity) []string {
	table := transitions[entity]
	out := make([]string, 0, len(table))
	for s := range table {
		out = append(out, s)
	}
	return out
}

// Allowed reports whether from -> to is a legal transition for the entity.
func Allowed(entity Entity, from, to string) bool {
	for _, next := range transitions[entity][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ensure returns a typed invalid_transition error when from -> to is illegal.
// Callers treat it as a precondition failure, never something to retry.
func Ensure(entity Entity, from, to string) error {
	if !Known(entity, from) {
		return apperr.Newf(apperr.CodeInvalidTransition, "unknown %s status %q", entity, from)
	}
	if !Known(entity, to) {
		return apperr.Newf(apperr.CodeInvalidTransition, "unknown %s status %q", entity, to)
	}
	if !Allowed(entity, from, to) {
		return apperr.Newf(apperr.CodeInvalidTransition, "invalid %s status transition %s -> %s", entity, from, to)
	}
	return nil
}
