package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const proposalColumns = `id,job_id,musician_id,quote_total,delivery_days,cover_message,status,created_at,updated_at`

func scanProposal(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var cover sql.NullString
	err := scan(&p.ID, &p.JobID, &p.MusicianID, &p.QuoteTotal, &p.DeliveryDays, &cover, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if cover.Valid {
		p.CoverMessage = cover.String
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(`+proposalColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.MusicianID, p.QuoteTotal, p.DeliveryDays, nullable(p.CoverMessage), p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	p, err := scanProposal(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	p, err := scanProposal(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) UpdateProposalStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ProposalFilters struct {
	JobID           string
	MusicianID      string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	var clauses []string
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
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
	query := `SELECT ` + proposalColumns + ` FROM proposals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProposalExists reports whether the musician already has a proposal on the job.
func (r Repo) ProposalExists(ctx context.Context, tx *sql.Tx, jobID, musicianID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM proposals WHERE job_id=? AND musician_id=? LIMIT 1`, jobID, musicianID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
