package engine

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigline/internal/apperr"
	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/status"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func newID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error, index string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+index)
}

// RegisterUser creates a marketplace account. Emails are unique.
func (e Engine) RegisterUser(ctx context.Context, name, email string) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return domain.User{}, apperr.Validation("name is required")
	}
	if email == "" {
		return domain.User{}, apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, apperr.Validation("email %q is not a valid address", email)
	}
	u := domain.User{
		ID:        newID(),
		Name:      name,
		Email:     email,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,email,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.Email, u.CreatedAt); err != nil {
		if isUniqueViolation(err, "users.email") {
			return domain.User{}, apperr.Conflict("email %s is already registered", email)
		}
		return domain.User{}, err
	}
	if err := e.writer().Append(ctx, tx, "user.registered", "user", u.ID, u.ID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	ClientID     string
	Title        string
	Description  string
	Budget       *int64
	BudgetMin    *int64
	BudgetMax    *int64
	Remote       bool
	DeliveryDate string
	ActorID      string
}

func validateBudget(opts JobCreateOptions) error {
	fixed := opts.Budget != nil
	ranged := opts.BudgetMin != nil || opts.BudgetMax != nil
	if fixed && ranged {
		return apperr.Validation("budget and budget range are mutually exclusive")
	}
	if fixed && *opts.Budget <= 0 {
		return apperr.Validation("budget must be positive")
	}
	if opts.BudgetMin != nil && *opts.BudgetMin <= 0 {
		return apperr.Validation("budget_min must be positive")
	}
	if opts.BudgetMax != nil && *opts.BudgetMax <= 0 {
		return apperr.Validation("budget_max must be positive")
	}
	if opts.BudgetMin != nil && opts.BudgetMax != nil && *opts.BudgetMax < *opts.BudgetMin {
		return apperr.Validation("budget_max must be >= budget_min")
	}
	return nil
}

// CreateJob posts a job in draft status.
func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Description = strings.TrimSpace(opts.Description)
	if opts.Title == "" {
		return domain.Job{}, apperr.Validation("title is required")
	}
	if opts.Description == "" {
		return domain.Job{}, apperr.Validation("description is required")
	}
	if err := validateBudget(opts); err != nil {
		return domain.Job{}, err
	}
	if opts.DeliveryDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DeliveryDate); err != nil {
			return domain.Job{}, apperr.Validation("delivery_date must be YYYY-MM-DD")
		}
	}
	if _, err := e.Repo.GetUser(ctx, opts.ClientID); err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, apperr.NotFound("client %s not found", opts.ClientID)
		}
		return domain.Job{}, err
	}

	now := e.nowStr()
	j := domain.Job{
		ID:          newID(),
		ClientID:    opts.ClientID,
		Title:       opts.Title,
		Description: opts.Description,
		Budget:      opts.Budget,
		BudgetMin:   opts.BudgetMin,
		BudgetMax:   opts.BudgetMax,
		Remote:      opts.Remote,
		Status:      status.JobDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DeliveryDate != "" {
		j.DeliveryDate = &opts.DeliveryDate
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,client_id,title,description,budget,budget_min,budget_max,remote,delivery_date,status,published_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ClientID, j.Title, j.Description, ptrInt64(j.Budget), ptrInt64(j.BudgetMin), ptrInt64(j.BudgetMax),
		boolToInt(j.Remote), ptrString(j.DeliveryDate), j.Status, nil, j.CreatedAt, j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.created", "job", j.ID, opts.ActorID, events.EventPayload{"title": j.Title}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// PublishJob moves a draft job to published and stamps published_at.
func (e Engine) PublishJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, apperr.NotFound("job %s not found", jobID)
		}
		return domain.Job{}, err
	}
	if j.ClientID != actorID {
		return domain.Job{}, apperr.ErrNotJobOwner
	}
	if err := status.Ensure(status.Job, j.Status, status.JobPublished); err != nil {
		return domain.Job{}, err
	}
	now := e.nowStr()
	j.Status = status.JobPublished
	j.PublishedAt = &now
	j.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?, published_at=?, updated_at=? WHERE id=?`,
		j.Status, now, now, j.ID); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.published", "job", j.ID, actorID, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// SetJobStatus performs owner-driven administrative transitions. The
// contracted status is reserved for proposal acceptance.
func (e Engine) SetJobStatus(ctx context.Context, jobID, actorID, target string) (domain.Job, error) {
	if target == status.JobContracted {
		return domain.Job{}, apperr.Validation("jobs become contracted by accepting a proposal")
	}
	if target == status.JobPublished {
		return domain.Job{}, apperr.Validation("use publish to move a job to published")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, apperr.NotFound("job %s not found", jobID)
		}
		return domain.Job{}, err
	}
	if j.ClientID != actorID {
		return domain.Job{}, apperr.ErrNotJobOwner
	}
	if err := status.Ensure(status.Job, j.Status, target); err != nil {
		return domain.Job{}, err
	}
	now := e.nowStr()
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, target, now); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.updated", "job", j.ID, actorID, events.EventPayload{"from": j.Status, "to": target}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	j.Status = target
	j.UpdatedAt = now
	return j, nil
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, id)
	if err == repo.ErrNotFound {
		return j, apperr.NotFound("job %s not found", id)
	}
	return j, err
}

func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.Job, error) {
	if f.Limit <= 0 && e.Config != nil {
		f.Limit = e.Config.Limits.PageSize
	}
	return e.Repo.ListJobs(ctx, f)
}

func ptrInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func ptrString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
