package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const contractColumns = `id,proposal_id,job_id,client_id,musician_id,escrow_total,status,created_at,updated_at`

func scanContract(scan func(dest ...any) error) (domain.Contract, error) {
	var c domain.Contract
	err := scan(&c.ID, &c.ProposalID, &c.JobID, &c.ClientID, &c.MusicianID, &c.EscrowTotal, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProposalID, c.JobID, c.ClientID, c.MusicianID, c.EscrowTotal, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	c, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	c, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ContractForJob returns the contract attached to a job, if any.
func (r Repo) ContractForJob(ctx context.Context, tx *sql.Tx, jobID string) (*domain.Contract, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE job_id=?`, jobID)
	c, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContractForProposal returns the contract attached to a proposal, if any.
func (r Repo) ContractForProposal(ctx context.Context, tx *sql.Tx, proposalID string) (*domain.Contract, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE proposal_id=?`, proposalID)
	c, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r Repo) UpdateContractStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ContractFilters struct {
	ClientID        string
	MusicianID      string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.MusicianID != "" {
		clauses = append(clauses, "musician_id=?")
		args = append(args, f.MusicianID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
