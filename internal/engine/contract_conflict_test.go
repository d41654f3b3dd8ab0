package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigline/internal/apperr"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/migrate"
	"gigline/internal/status"
)

// Sequential double accepts are caught by the precondition re-reads before
// the insert ever runs, so the unique indexes on contracts only fire when
// two accepts race. These tests force the collisions directly and check the
// sentinel a raced caller would see.
func TestContractInsertCollisions(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := New(conn, config.Default("test-marketplace"))
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	client := domain.User{ID: newID(), Name: "Client", Email: "client@label.com", CreatedAt: ts}
	m1 := domain.User{ID: newID(), Name: "M1", Email: "m1@band.com", CreatedAt: ts}
	m2 := domain.User{ID: newID(), Name: "M2", Email: "m2@band.com", CreatedAt: ts}
	for _, u := range []domain.User{client, m1, m2} {
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	job1 := domain.Job{ID: newID(), ClientID: client.ID, Title: "Mix EP", Description: "Five tracks", Status: status.JobPublished, CreatedAt: ts, UpdatedAt: ts}
	job2 := domain.Job{ID: newID(), ClientID: client.ID, Title: "Master single", Description: "One track", Status: status.JobPublished, CreatedAt: ts, UpdatedAt: ts}
	for _, j := range []domain.Job{job1, job2} {
		if err := eng.Repo.InsertJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	p1 := domain.Proposal{ID: newID(), JobID: job1.ID, MusicianID: m1.ID, QuoteTotal: 40000, DeliveryDays: 10, Status: status.ProposalSubmitted, CreatedAt: ts, UpdatedAt: ts}
	p2 := domain.Proposal{ID: newID(), JobID: job1.ID, MusicianID: m2.ID, QuoteTotal: 45000, DeliveryDays: 8, Status: status.ProposalSubmitted, CreatedAt: ts, UpdatedAt: ts}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []domain.Proposal{p1, p2} {
		if err := eng.Repo.InsertProposal(ctx, tx, p); err != nil {
			t.Fatal(err)
		}
	}
	won := domain.Contract{
		ID: newID(), ProposalID: p1.ID, JobID: job1.ID,
		ClientID: client.ID, MusicianID: m1.ID, EscrowTotal: p1.QuoteTotal,
		Status: status.ContractActive, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := eng.Repo.InsertContract(ctx, tx, won); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// a second contract on the same job loses to the job_id index
	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = eng.Repo.InsertContract(ctx, tx, domain.Contract{
		ID: newID(), ProposalID: p2.ID, JobID: job1.ID,
		ClientID: client.ID, MusicianID: m2.ID, EscrowTotal: p2.QuoteTotal,
		Status: status.ContractActive, CreatedAt: ts, UpdatedAt: ts,
	})
	tx.Rollback()
	if err == nil {
		t.Fatal("expected unique violation on contracts.job_id")
	}
	if !errors.Is(contractInsertError(err), apperr.ErrJobAlreadyContracted) {
		t.Fatalf("job collision mapped to %v", contractInsertError(err))
	}

	// a replayed accept of the winning proposal loses to the proposal_id index
	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = eng.Repo.InsertContract(ctx, tx, domain.Contract{
		ID: newID(), ProposalID: p1.ID, JobID: job2.ID,
		ClientID: client.ID, MusicianID: m1.ID, EscrowTotal: p1.QuoteTotal,
		Status: status.ContractActive, CreatedAt: ts, UpdatedAt: ts,
	})
	tx.Rollback()
	if err == nil {
		t.Fatal("expected unique violation on contracts.proposal_id")
	}
	if !errors.Is(contractInsertError(err), apperr.ErrContractExists) {
		t.Fatalf("proposal collision mapped to %v", contractInsertError(err))
	}

	// unrelated failures pass through untouched
	plain := errors.New("disk I/O error")
	if got := contractInsertError(plain); got != plain {
		t.Fatalf("unrelated error mapped to %v", got)
	}
}
