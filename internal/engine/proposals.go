package engine

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/apperr"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/status"
)

// ProposalCreateOptions are parameters for submitting a proposal.
type ProposalCreateOptions struct {
	JobID        string
	MusicianID   string
	QuoteTotal   int64
	DeliveryDays int
	CoverMessage string
	ActorID      string
}

// SubmitProposal pitches a musician on a published job. One proposal per
// musician per job.
func (e Engine) SubmitProposal(ctx context.Context, opts ProposalCreateOptions) (domain.Proposal, error) {
	opts.CoverMessage = strings.TrimSpace(opts.CoverMessage)
	if opts.QuoteTotal <= 0 {
		return domain.Proposal{}, apperr.Validation("quote_total must be positive")
	}
	if opts.DeliveryDays <= 0 {
		return domain.Proposal{}, apperr.Validation("delivery_days must be positive")
	}
	if e.Config != nil && len(opts.CoverMessage) > e.Config.Limits.CoverMessageMaxChars {
		return domain.Proposal{}, apperr.Validation("cover_message exceeds %d characters", e.Config.Limits.CoverMessageMaxChars)
	}
	if _, err := e.Repo.GetUser(ctx, opts.MusicianID); err != nil {
		if err == repo.ErrNotFound {
			return domain.Proposal{}, apperr.NotFound("musician %s not found", opts.MusicianID)
		}
		return domain.Proposal{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Proposal{}, apperr.NotFound("job %s not found", opts.JobID)
		}
		return domain.Proposal{}, err
	}
	if j.ClientID == opts.MusicianID {
		return domain.Proposal{}, apperr.ErrOwnJobProposal
	}
	// Only published jobs take proposals. in_review parks the job while the
	// client deliberates; it has to go back to published before anything new
	// comes in.
	if j.Status != status.JobPublished {
		return domain.Proposal{}, apperr.ErrJobNotPublished
	}
	exists, err := e.Repo.ProposalExists(ctx, tx, opts.JobID, opts.MusicianID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if exists {
		return domain.Proposal{}, apperr.ErrDuplicateProposal
	}

	now := e.nowStr()
	p := domain.Proposal{
		ID:           newID(),
		JobID:        opts.JobID,
		MusicianID:   opts.MusicianID,
		QuoteTotal:   opts.QuoteTotal,
		DeliveryDays: opts.DeliveryDays,
		CoverMessage: opts.CoverMessage,
		Status:       status.ProposalSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		if isUniqueViolation(err, "proposals.job_id") {
			return domain.Proposal{}, apperr.ErrDuplicateProposal
		}
		return domain.Proposal{}, err
	}
	if err := e.writer().Append(ctx, tx, "proposal.submitted", "proposal", p.ID, opts.ActorID, events.EventPayload{"job_id": p.JobID, "quote_total": p.QuoteTotal}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// loadProposalWithJob re-reads proposal and job inside the transaction so
// precondition checks see committed state, not a stale snapshot.
func (e Engine) loadProposalWithJob(ctx context.Context, tx *sql.Tx, proposalID string) (domain.Proposal, domain.Job, error) {
	p, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		if err == repo.ErrNotFound {
			return p, domain.Job{}, apperr.NotFound("proposal %s not found", proposalID)
		}
		return p, domain.Job{}, err
	}
	j, err := e.Repo.GetJobTx(ctx, tx, p.JobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return p, j, apperr.NotFound("job %s not found", p.JobID)
		}
		return p, j, err
	}
	return p, j, nil
}

// ShortlistProposal marks a submitted proposal as shortlisted by the owner.
func (e Engine) ShortlistProposal(ctx context.Context, proposalID, actorID string) (domain.Proposal, error) {
	return e.setProposalStatus(ctx, proposalID, actorID, status.ProposalShortlisted, "proposal.shortlisted", true)
}

// WithdrawProposal lets the musician pull an open proposal.
func (e Engine) WithdrawProposal(ctx context.Context, proposalID, actorID string) (domain.Proposal, error) {
	return e.setProposalStatus(ctx, proposalID, actorID, status.ProposalWithdrawn, "proposal.withdrawn", false)
}

func (e Engine) setProposalStatus(ctx context.Context, proposalID, actorID, target, evtType string, ownerAction bool) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, j, err := e.loadProposalWithJob(ctx, tx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if ownerAction {
		if j.ClientID != actorID {
			return domain.Proposal{}, apperr.ErrNotJobOwner
		}
	} else if p.MusicianID != actorID {
		return domain.Proposal{}, apperr.Forbidden("only the proposing musician can perform this action")
	}
	if err := status.Ensure(status.Proposal, p.Status, target); err != nil {
		return domain.Proposal{}, err
	}
	now := e.nowStr()
	if err := e.Repo.UpdateProposalStatusTx(ctx, tx, p.ID, target, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.writer().Append(ctx, tx, evtType, "proposal", p.ID, actorID, events.EventPayload{"from": p.Status, "to": target}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = target
	p.UpdatedAt = now
	return p, nil
}

// RejectProposal declines a proposal. Terminal states report which terminal
// state blocked the rejection.
func (e Engine) RejectProposal(ctx context.Context, proposalID, actorID string) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, j, err := e.loadProposalWithJob(ctx, tx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if j.ClientID != actorID {
		return domain.Proposal{}, apperr.ErrNotJobOwner
	}
	switch p.Status {
	case status.ProposalAccepted:
		return domain.Proposal{}, apperr.ErrAlreadyAccepted
	case status.ProposalRejected:
		return domain.Proposal{}, apperr.ErrAlreadyRejected
	}
	if err := status.Ensure(status.Proposal, p.Status, status.ProposalRejected); err != nil {
		return domain.Proposal{}, err
	}
	now := e.nowStr()
	if err := e.Repo.UpdateProposalStatusTx(ctx, tx, p.ID, status.ProposalRejected, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.writer().Append(ctx, tx, "proposal.rejected", "proposal", p.ID, actorID, nil); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = status.ProposalRejected
	p.UpdatedAt = now
	return p, nil
}

// contractInsertError translates a unique-index violation on the contracts
// table into the same sentinel a precondition check would have produced, so
// a lost race surfaces no differently than a sequential double accept.
func contractInsertError(err error) error {
	if isUniqueViolation(err, "contracts.job_id") {
		return apperr.ErrJobAlreadyContracted
	}
	if isUniqueViolation(err, "contracts.proposal_id") {
		return apperr.ErrContractExists
	}
	return err
}

// AcceptResult bundles everything the acceptance transaction creates.
type AcceptResult struct {
	Proposal     domain.Proposal
	Job          domain.Job
	Contract     domain.Contract
	Conversation domain.Conversation
}

// AcceptProposal turns a proposal into a contract, moves the job to
// contracted and opens a private conversation between client and musician.
// Everything happens in one transaction: either all effects land or none do.
// Preconditions are checked in a fixed order against rows re-read inside the
// transaction, and the unique indexes on contracts convert a lost race into
// the same failures a precondition check would have produced.
func (e Engine) AcceptProposal(ctx context.Context, proposalID, actorID string) (AcceptResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AcceptResult{}, err
	}
	defer tx.Rollback()

	p, j, err := e.loadProposalWithJob(ctx, tx, proposalID)
	if err != nil {
		return AcceptResult{}, err
	}
	if j.ClientID != actorID {
		return AcceptResult{}, apperr.ErrNotJobOwner
	}
	switch p.Status {
	case status.ProposalAccepted:
		return AcceptResult{}, apperr.ErrAlreadyAccepted
	case status.ProposalRejected:
		return AcceptResult{}, apperr.ErrAlreadyRejected
	}
	if j.Status == status.JobContracted {
		return AcceptResult{}, apperr.ErrJobAlreadyContracted
	}
	if existing, err := e.Repo.ContractForJob(ctx, tx, j.ID); err != nil {
		return AcceptResult{}, err
	} else if existing != nil {
		return AcceptResult{}, apperr.ErrJobAlreadyContracted
	}
	if j.Status != status.JobPublished {
		return AcceptResult{}, apperr.ErrJobNotPublished
	}
	if existing, err := e.Repo.ContractForProposal(ctx, tx, p.ID); err != nil {
		return AcceptResult{}, err
	} else if existing != nil {
		return AcceptResult{}, apperr.ErrContractExists
	}
	if err := status.Ensure(status.Proposal, p.Status, status.ProposalAccepted); err != nil {
		return AcceptResult{}, err
	}

	now := e.nowStr()
	if err := e.Repo.UpdateProposalStatusTx(ctx, tx, p.ID, status.ProposalAccepted, now); err != nil {
		return AcceptResult{}, err
	}
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, status.JobContracted, now); err != nil {
		return AcceptResult{}, err
	}

	// Escrow holds the full quoted amount.
	c := domain.Contract{
		ID:          newID(),
		ProposalID:  p.ID,
		JobID:       j.ID,
		ClientID:    j.ClientID,
		MusicianID:  p.MusicianID,
		EscrowTotal: p.QuoteTotal,
		Status:      status.ContractActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return AcceptResult{}, contractInsertError(err)
	}

	conv := domain.Conversation{
		ID:         newID(),
		ContractID: &c.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertConversation(ctx, tx, conv); err != nil {
		return AcceptResult{}, err
	}
	for _, userID := range []string{j.ClientID, p.MusicianID} {
		part := domain.ConversationParticipant{
			ID:             newID(),
			ConversationID: conv.ID,
			UserID:         userID,
			CreatedAt:      now,
		}
		if err := e.Repo.InsertParticipant(ctx, tx, part); err != nil {
			return AcceptResult{}, err
		}
	}

	w := e.writer()
	if err := w.Append(ctx, tx, "proposal.accepted", "proposal", p.ID, actorID, events.EventPayload{"job_id": j.ID}); err != nil {
		return AcceptResult{}, err
	}
	if err := w.Append(ctx, tx, "contract.created", "contract", c.ID, actorID, events.EventPayload{"proposal_id": p.ID, "escrow_total": c.EscrowTotal}); err != nil {
		return AcceptResult{}, err
	}
	if err := w.Append(ctx, tx, "conversation.created", "conversation", conv.ID, actorID, events.EventPayload{"contract_id": c.ID}); err != nil {
		return AcceptResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AcceptResult{}, err
	}

	p.Status = status.ProposalAccepted
	p.UpdatedAt = now
	j.Status = status.JobContracted
	j.UpdatedAt = now
	return AcceptResult{Proposal: p, Job: j, Contract: c, Conversation: conv}, nil
}

func (e Engine) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, id)
	if err == repo.ErrNotFound {
		return p, apperr.NotFound("proposal %s not found", id)
	}
	return p, err
}

// ListProposalsForJob returns a job's proposals; only the owner may see them.
func (e Engine) ListProposalsForJob(ctx context.Context, jobID, actorID string, f repo.ProposalFilters) ([]domain.Proposal, error) {
	j, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.ClientID != actorID {
		return nil, apperr.ErrNotJobOwner
	}
	f.JobID = jobID
	if f.Limit <= 0 && e.Config != nil {
		f.Limit = e.Config.Limits.PageSize
	}
	return e.Repo.ListProposals(ctx, f)
}

func (e Engine) ListProposalsByMusician(ctx context.Context, musicianID string, f repo.ProposalFilters) ([]domain.Proposal, error) {
	f.MusicianID = musicianID
	if f.Limit <= 0 && e.Config != nil {
		f.Limit = e.Config.Limits.PageSize
	}
	return e.Repo.ListProposals(ctx, f)
}
