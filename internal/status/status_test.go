package status

import (
	"errors"
	"testing"

	"gigline/internal/apperr"
)

// every legal pair per entity; anything else must be rejected
var legal = map[Entity]map[string][]string{
	Job: {
		JobDraft:      {JobPublished, JobClosed},
		JobPublished:  {JobInReview, JobContracted, JobClosed},
		JobInReview:   {JobPublished, JobClosed},
		JobContracted: {JobCompleted, JobClosed},
	},
	Proposal: {
		ProposalSubmitted:   {ProposalShortlisted, ProposalAccepted, ProposalRejected, ProposalWithdrawn},
		ProposalShortlisted: {ProposalAccepted, ProposalRejected, ProposalWithdrawn},
	},
	Contract: {
		ContractActive:     {ContractInProgress, ContractCanceled},
		ContractInProgress: {ContractDelivered, ContractCanceled},
		ContractDelivered:  {ContractCompleted, ContractCanceled},
	},
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func TestEveryPair(t *testing.T) {
	counts := map[Entity]int{Job: 6, Proposal: 5, Contract: 5}
	for _, entity := range []Entity{Job, Proposal, Contract} {
		all := Statuses(entity)
		if len(all) != counts[entity] {
			t.Fatalf("%s: expected %d statuses, got %d", entity, counts[entity], len(all))
		}
		for _, from := range all {
			for _, to := range all {
				want := contains(legal[entity][from], to)
				if got := Allowed(entity, from, to); got != want {
					t.Errorf("%s: Allowed(%s, %s) = %v, want %v", entity, from, to, got, want)
				}
				err := Ensure(entity, from, to)
				if want && err != nil {
					t.Errorf("%s: Ensure(%s, %s) unexpected error %v", entity, from, to, err)
				}
				if !want && err == nil {
					t.Errorf("%s: Ensure(%s, %s) expected error", entity, from, to)
				}
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Entity][]string{
		Job:      {JobCompleted, JobClosed},
		Proposal: {ProposalAccepted, ProposalRejected, ProposalWithdrawn},
		Contract: {ContractCompleted, ContractCanceled},
	}
	for entity, statuses := range terminal {
		for _, from := range statuses {
			for _, to := range Statuses(entity) {
				if Allowed(entity, from, to) {
					t.Errorf("%s: %s should be terminal but allows -> %s", entity, from, to)
				}
			}
		}
	}
}

func TestEnsureUnknownStatus(t *testing.T) {
	err := Ensure(Job, "bogus", JobPublished)
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidTransition {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	if err := Ensure(Proposal, ProposalSubmitted, "bogus"); err == nil {
		t.Fatal("expected error for unknown target status")
	}
}

func TestEnsureErrorCode(t *testing.T) {
	err := Ensure(Proposal, ProposalAccepted, ProposalRejected)
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected apperr.Error, got %T", err)
	}
	if ae.Code != apperr.CodeInvalidTransition {
		t.Fatalf("expected invalid_transition code, got %s", ae.Code)
	}
}
