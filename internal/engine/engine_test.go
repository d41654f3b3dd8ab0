package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigline/internal/apperr"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens an isolated database with a stepping clock so every write
// gets a distinct, ordered timestamp.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-marketplace")
	eng := engine.New(conn, cfg)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	eng.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustUser(t *testing.T, env testEnv, name, email string) domain.User {
	t.Helper()
	u, err := env.Engine.RegisterUser(env.Ctx, name, email)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}

func mustPublishedJob(t *testing.T, env testEnv, clientID string) domain.Job {
	t.Helper()
	budget := int64(100000)
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		ClientID:    clientID,
		Title:       "Mix and master EP",
		Description: "Five tracks, indie rock",
		Budget:      &budget,
		ActorID:     clientID,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	j, err = env.Engine.PublishJob(env.Ctx, j.ID, clientID)
	if err != nil {
		t.Fatalf("publish job: %v", err)
	}
	return j
}

func TestRegisterUserValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterUser(env.Ctx, "", "a@b.com"); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := env.Engine.RegisterUser(env.Ctx, "Ana", "not-an-email"); err == nil {
		t.Fatal("expected error for bad email")
	}
	u := mustUser(t, env, "Ana", "ana@studio.io")
	if u.Email != "ana@studio.io" {
		t.Fatalf("email = %q", u.Email)
	}
	_, err := env.Engine.RegisterUser(env.Ctx, "Other Ana", "ANA@studio.io")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeConflict {
		t.Fatalf("duplicate email: got %v, want conflict", err)
	}
}

func TestCreateJobBudgetRules(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	fixed := int64(50000)
	min, max := int64(10000), int64(20000)

	cases := []struct {
		name string
		opts engine.JobCreateOptions
		ok   bool
	}{
		{"fixed budget", engine.JobCreateOptions{Budget: &fixed}, true},
		{"range", engine.JobCreateOptions{BudgetMin: &min, BudgetMax: &max}, true},
		{"no budget at all", engine.JobCreateOptions{}, true},
		{"fixed and range", engine.JobCreateOptions{Budget: &fixed, BudgetMin: &min}, false},
		{"inverted range", engine.JobCreateOptions{BudgetMin: &max, BudgetMax: &min}, false},
	}
	for _, tc := range cases {
		tc.opts.ClientID = client.ID
		tc.opts.Title = "Score a short film"
		tc.opts.Description = "Two minutes of orchestral underscore"
		tc.opts.ActorID = client.ID
		_, err := env.Engine.CreateJob(env.Ctx, tc.opts)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	stranger := mustUser(t, env, "Stranger", "other@label.com")
	budget := int64(75000)
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		ClientID:    client.ID,
		Title:       "Podcast intro jingle",
		Description: "Fifteen seconds, upbeat",
		Budget:      &budget,
		ActorID:     client.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.Status != "draft" {
		t.Fatalf("new job status = %s", j.Status)
	}

	if _, err := env.Engine.PublishJob(env.Ctx, j.ID, stranger.ID); !errors.Is(err, apperr.ErrNotJobOwner) {
		t.Fatalf("publish by stranger: got %v", err)
	}
	j, err = env.Engine.PublishJob(env.Ctx, j.ID, client.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if j.Status != "published" || j.PublishedAt == nil {
		t.Fatalf("published job = %+v", j)
	}
	if _, err := env.Engine.PublishJob(env.Ctx, j.ID, client.ID); err == nil {
		t.Fatal("expected error republishing")
	}

	// contracted is reserved for acceptance
	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, client.ID, "contracted"); err == nil {
		t.Fatal("expected error setting contracted directly")
	}
	j, err = env.Engine.SetJobStatus(env.Ctx, j.ID, client.ID, "in_review")
	if err != nil || j.Status != "in_review" {
		t.Fatalf("to in_review: %v (%s)", err, j.Status)
	}
	j, err = env.Engine.SetJobStatus(env.Ctx, j.ID, client.ID, "closed")
	if err != nil || j.Status != "closed" {
		t.Fatalf("to closed: %v (%s)", err, j.Status)
	}
	_, err = env.Engine.SetJobStatus(env.Ctx, j.ID, client.ID, "in_review")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidTransition {
		t.Fatalf("reopen closed job: got %v", err)
	}
}

func TestSubmitProposalRules(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	j := mustPublishedJob(t, env, client.ID)

	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 0, DeliveryDays: 7, ActorID: musician.ID,
	}); err == nil {
		t.Fatal("expected error for zero quote")
	}
	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: client.ID, QuoteTotal: 50000, DeliveryDays: 7, ActorID: client.ID,
	}); !errors.Is(err, apperr.ErrOwnJobProposal) {
		t.Fatal("expected own-job rejection")
	}

	p, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 50000, DeliveryDays: 7,
		CoverMessage: "I mixed three records in this genre.", ActorID: musician.ID,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Status != "submitted" {
		t.Fatalf("proposal status = %s", p.Status)
	}

	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 60000, DeliveryDays: 5, ActorID: musician.ID,
	}); !errors.Is(err, apperr.ErrDuplicateProposal) {
		t.Fatal("expected duplicate proposal rejection")
	}

	// draft jobs are not open for proposals
	draft, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		ClientID: client.ID, Title: "Unreleased", Description: "Not yet open", ActorID: client.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: draft.ID, MusicianID: musician.ID, QuoteTotal: 1000, DeliveryDays: 1, ActorID: musician.ID,
	}); !errors.Is(err, apperr.ErrJobNotPublished) {
		t.Fatalf("proposal on draft job: got %v", err)
	}
}

func TestProposalShortlistAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	j := mustPublishedJob(t, env, client.ID)
	p, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 50000, DeliveryDays: 7, ActorID: musician.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.ShortlistProposal(env.Ctx, p.ID, musician.ID); !errors.Is(err, apperr.ErrNotJobOwner) {
		t.Fatalf("shortlist by musician: got %v", err)
	}
	p, err = env.Engine.ShortlistProposal(env.Ctx, p.ID, client.ID)
	if err != nil || p.Status != "shortlisted" {
		t.Fatalf("shortlist: %v (%s)", err, p.Status)
	}

	if _, err := env.Engine.WithdrawProposal(env.Ctx, p.ID, client.ID); err == nil {
		t.Fatal("expected error withdrawing someone else's proposal")
	}
	p, err = env.Engine.WithdrawProposal(env.Ctx, p.ID, musician.ID)
	if err != nil || p.Status != "withdrawn" {
		t.Fatalf("withdraw: %v (%s)", err, p.Status)
	}
	// withdrawn is terminal
	if _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, client.ID); err == nil {
		t.Fatal("expected error accepting withdrawn proposal")
	}
}

func TestRejectProposalNamedFailures(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	m1 := mustUser(t, env, "M1", "m1@band.com")
	m2 := mustUser(t, env, "M2", "m2@band.com")
	j := mustPublishedJob(t, env, client.ID)
	p1, _ := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: m1.ID, QuoteTotal: 40000, DeliveryDays: 10, ActorID: m1.ID,
	})
	p2, _ := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: m2.ID, QuoteTotal: 45000, DeliveryDays: 8, ActorID: m2.ID,
	})

	p2r, err := env.Engine.RejectProposal(env.Ctx, p2.ID, client.ID)
	if err != nil || p2r.Status != "rejected" {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.RejectProposal(env.Ctx, p2.ID, client.ID); !errors.Is(err, apperr.ErrAlreadyRejected) {
		t.Fatalf("double reject: got %v", err)
	}

	if _, err := env.Engine.AcceptProposal(env.Ctx, p1.ID, client.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.Engine.RejectProposal(env.Ctx, p1.ID, client.ID); !errors.Is(err, apperr.ErrAlreadyAccepted) {
		t.Fatalf("reject accepted: got %v", err)
	}
}

func TestContractFulfillment(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	outsider := mustUser(t, env, "Outsider", "x@y.com")
	j := mustPublishedJob(t, env, client.ID)
	p, _ := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 50000, DeliveryDays: 7, ActorID: musician.ID,
	})
	res, err := env.Engine.AcceptProposal(env.Ctx, p.ID, client.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.SetContractStatus(env.Ctx, res.Contract.ID, outsider.ID, "in_progress"); err == nil {
		t.Fatal("expected party-only rejection")
	}
	c, err := env.Engine.SetContractStatus(env.Ctx, res.Contract.ID, musician.ID, "in_progress")
	if err != nil || c.Status != "in_progress" {
		t.Fatalf("in_progress: %v", err)
	}
	c, err = env.Engine.SetContractStatus(env.Ctx, res.Contract.ID, musician.ID, "delivered")
	if err != nil || c.Status != "delivered" {
		t.Fatalf("delivered: %v", err)
	}
	c, err = env.Engine.SetContractStatus(env.Ctx, res.Contract.ID, client.ID, "completed")
	if err != nil || c.Status != "completed" {
		t.Fatalf("completed: %v", err)
	}
	// completing the contract completes the job
	job, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil || job.Status != "completed" {
		t.Fatalf("job after contract completion: %v (%s)", err, job.Status)
	}
	if _, err := env.Engine.SetContractStatus(env.Ctx, res.Contract.ID, client.ID, "in_progress"); err == nil {
		t.Fatal("expected error leaving completed")
	}
}

func TestInReviewJobBlocksProposalsAndAcceptance(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	late := mustUser(t, env, "Late", "late@band.com")
	j := mustPublishedJob(t, env, client.ID)
	p, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 50000, DeliveryDays: 7, ActorID: musician.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, client.ID, "in_review"); err != nil {
		t.Fatalf("park job: %v", err)
	}
	// a parked job takes no new proposals
	if _, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: late.ID, QuoteTotal: 60000, DeliveryDays: 5, ActorID: late.ID,
	}); !errors.Is(err, apperr.ErrJobNotPublished) {
		t.Fatalf("submit on in_review job: got %v", err)
	}
	// and existing proposals cannot be accepted until it is published again
	if _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, client.ID); !errors.Is(err, apperr.ErrJobNotPublished) {
		t.Fatalf("accept on in_review job: got %v", err)
	}
	got, err := env.Engine.GetProposal(env.Ctx, p.ID)
	if err != nil || got.Status != "submitted" {
		t.Fatalf("proposal after refused accept: %v (%s)", err, got.Status)
	}

	if _, err := env.Engine.PublishJob(env.Ctx, j.ID, client.ID); err != nil {
		t.Fatalf("republish: %v", err)
	}
	if _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, client.ID); err != nil {
		t.Fatalf("accept after republish: %v", err)
	}
}
