package engine

import (
	"context"

	"gigline/internal/apperr"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/status"
)

// SetContractStatus advances a contract through fulfillment. Only the two
// contract parties may act. Completing a contract completes its job;
// canceling a contract closes the job.
func (e Engine) SetContractStatus(ctx context.Context, contractID, actorID, target string) (domain.Contract, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Contract{}, apperr.NotFound("contract %s not found", contractID)
		}
		return domain.Contract{}, err
	}
	if actorID != c.ClientID && actorID != c.MusicianID {
		return domain.Contract{}, apperr.Forbidden("only a contract party can perform this action")
	}
	if err := status.Ensure(status.Contract, c.Status, target); err != nil {
		return domain.Contract{}, err
	}
	now := e.nowStr()
	if err := e.Repo.UpdateContractStatusTx(ctx, tx, c.ID, target, now); err != nil {
		return domain.Contract{}, err
	}

	var jobTarget string
	switch target {
	case status.ContractCompleted:
		jobTarget = status.JobCompleted
	case status.ContractCanceled:
		jobTarget = status.JobClosed
	}
	if jobTarget != "" {
		j, err := e.Repo.GetJobTx(ctx, tx, c.JobID)
		if err != nil {
			return domain.Contract{}, err
		}
		if err := status.Ensure(status.Job, j.Status, jobTarget); err != nil {
			return domain.Contract{}, err
		}
		if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, jobTarget, now); err != nil {
			return domain.Contract{}, err
		}
		if err := e.writer().Append(ctx, tx, "job.updated", "job", j.ID, actorID, events.EventPayload{"from": j.Status, "to": jobTarget}); err != nil {
			return domain.Contract{}, err
		}
	}

	if err := e.writer().Append(ctx, tx, "contract.updated", "contract", c.ID, actorID, events.EventPayload{"from": c.Status, "to": target}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	c.Status = target
	c.UpdatedAt = now
	return c, nil
}

func (e Engine) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, id)
	if err == repo.ErrNotFound {
		return c, apperr.NotFound("contract %s not found", id)
	}
	return c, err
}

// ListContractsForUser returns contracts where the user is either party.
func (e Engine) ListContractsForUser(ctx context.Context, userID string, f repo.ContractFilters) ([]domain.Contract, error) {
	if f.Limit <= 0 && e.Config != nil {
		f.Limit = e.Config.Limits.PageSize
	}
	asClient := f
	asClient.ClientID = userID
	clientSide, err := e.Repo.ListContracts(ctx, asClient)
	if err != nil {
		return nil, err
	}
	asMusician := f
	asMusician.MusicianID = userID
	musicianSide, err := e.Repo.ListContracts(ctx, asMusician)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var res []domain.Contract
	for _, c := range append(clientSide, musicianSide...) {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		res = append(res, c)
	}
	return res, nil
}
