package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gigline/internal/apperr"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"job cannot move from draft to contracted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gigline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 validation failures.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gigline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerConversations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return newAPIError(statusForCode(ae.Code), string(ae.Code), ae.Message, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal", "internal error", map[string]any{"error": err.Error()})
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperr.CodeValidation)
	case http.StatusUnauthorized:
		return string(apperr.CodeUnauthenticated)
	case http.StatusForbidden:
		return string(apperr.CodeForbidden)
	case http.StatusNotFound:
		return string(apperr.CodeNotFound)
	case http.StatusConflict:
		return string(apperr.CodeConflict)
	case http.StatusUnprocessableEntity:
		return string(apperr.CodeInvalidTransition)
	case http.StatusInternalServerError:
		return string(apperr.CodeInternal)
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// encodeCursor packs the keyset position of the last returned row.
func encodeCursor(ts, id string) string {
	return ts + "|" + id
}

func parseCursor(cursor string) (ts, id string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gigline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation", "body required", nil)
		}
		u, err := e.RegisterUser(ctx, input.Body.Name, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Post a job (draft)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CreateJob(ctx, engine.JobCreateOptions{
			ClientID:     userID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Budget:       input.Body.Budget,
			BudgetMin:    input.Body.BudgetMin,
			BudgetMax:    input.Body.BudgetMax,
			Remote:       input.Body.Remote,
			DeliveryDate: input.Body.DeliveryDate,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Client string `query:"client_id"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body JobListResponse `json:"body"`
	}, error) {
		ts, id := parseCursor(input.Cursor)
		jobs, err := e.ListJobs(ctx, repo.JobFilters{
			ClientID:        input.Client,
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := JobListResponse{Jobs: nonNilSlice(jobs)}
		if n := len(jobs); n > 0 && input.Limit > 0 && n == input.Limit {
			res.NextCursor = encodeCursor(jobs[n-1].CreatedAt, jobs[n-1].ID)
		}
		return &struct {
			Body JobListResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/publish",
		Summary:     "Publish a draft job",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.PublishJob(ctx, input.JobID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-job-status",
		Method:      http.MethodPatch,
		Path:        "/jobs/{job_id}/status",
		Summary:     "Administrative job transition",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		JobID string              `path:"job_id"`
		Body  SetJobStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.SetJobStatus(ctx, input.JobID, userID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-proposal",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/proposals",
		Summary:       "Submit a proposal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		JobID string                `path:"job_id"`
		Body  CreateProposalRequest `json:"body"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProposal(ctx, engine.ProposalCreateOptions{
			JobID:        input.JobID,
			MusicianID:   userID,
			QuoteTotal:   input.Body.QuoteTotal,
			DeliveryDays: input.Body.DeliveryDays,
			CoverMessage: input.Body.CoverMessage,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-proposals",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/proposals",
		Summary:     "List a job's proposals (owner only)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID  string `path:"job_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body ProposalListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id := parseCursor(input.Cursor)
		props, err := e.ListProposalsForJob(ctx, input.JobID, userID, repo.ProposalFilters{
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := ProposalListResponse{Proposals: nonNilSlice(props)}
		if n := len(props); n > 0 && input.Limit > 0 && n == input.Limit {
			res.NextCursor = encodeCursor(props[n-1].CreatedAt, props[n-1].ID)
		}
		return &struct {
			Body ProposalListResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals/mine",
		Summary:     "List my proposals",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body ProposalListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id := parseCursor(input.Cursor)
		props, err := e.ListProposalsByMusician(ctx, userID, repo.ProposalFilters{
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalListResponse `json:"body"`
		}{Body: ProposalListResponse{Proposals: nonNilSlice(props)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		p, err := e.GetProposal(ctx, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/accept",
		Summary:     "Accept a proposal",
		Description: "Accepts the proposal, contracts the job, creates the contract and opens the client-musician conversation in one transaction.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body AcceptProposalResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptProposal(ctx, input.ProposalID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptProposalResponse `json:"body"`
		}{Body: AcceptProposalResponse{
			Proposal:     res.Proposal,
			Contract:     res.Contract,
			Conversation: res.Conversation,
		}}, nil
	})

	type proposalAction struct {
		id      string
		summary string
		call    func(ctx context.Context, proposalID, actorID string) (domain.Proposal, error)
	}
	for _, action := range []proposalAction{
		{"reject-proposal", "Reject a proposal", e.RejectProposal},
		{"shortlist-proposal", "Shortlist a proposal", e.ShortlistProposal},
		{"withdraw-proposal", "Withdraw a proposal", e.WithdrawProposal},
	} {
		action := action
		huma.Register(api, huma.Operation{
			OperationID: action.id,
			Method:      http.MethodPost,
			Path:        "/proposals/{proposal_id}/" + strings.TrimSuffix(action.id, "-proposal"),
			Summary:     action.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *struct {
			ProposalID string `path:"proposal_id"`
		}) (*struct {
			Body domain.Proposal `json:"body"`
		}, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := action.call(ctx, input.ProposalID, userID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Proposal `json:"body"`
			}{Body: p}, nil
		})
	}
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List my contracts",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body ContractListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		contracts, err := e.ListContractsForUser(ctx, userID, repo.ContractFilters{Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractListResponse `json:"body"`
		}{Body: ContractListResponse{Contracts: nonNilSlice(contracts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		c, err := e.GetContract(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contract `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contract-status",
		Method:      http.MethodPatch,
		Path:        "/contracts/{contract_id}/status",
		Summary:     "Advance contract fulfillment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ContractID string                   `path:"contract_id"`
		Body       SetContractStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetContractStatus(ctx, input.ContractID, userID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contract `json:"body"`
		}{Body: c}, nil
	})
}

func registerConversations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-conversation",
		Method:        http.MethodPost,
		Path:          "/conversations",
		Summary:       "Open a conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateConversationRequest `json:"body"`
	}) (*struct {
		Body domain.Conversation `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conv, err := e.CreateConversation(ctx, engine.ConversationCreateOptions{
			JobID:          input.Body.JobID,
			ContractID:     input.Body.ContractID,
			ParticipantIDs: input.Body.ParticipantIDs,
			ActorID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Conversation `json:"body"`
		}{Body: conv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/conversations",
		Summary:     "List my conversations",
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body ConversationListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id := parseCursor(input.Cursor)
		sums, err := e.ListConversationsForUser(ctx, userID, input.Limit, ts, id)
		if err != nil {
			return nil, handleError(err)
		}
		res := ConversationListResponse{Conversations: nonNilSlice(sums)}
		if n := len(sums); n > 0 && input.Limit > 0 && n == input.Limit {
			last := sums[n-1].Conversation
			res.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
		}
		return &struct {
			Body ConversationListResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}",
		Summary:     "Get conversation with messages",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string `path:"conversation_id"`
		Limit          int    `query:"limit"`
		Cursor         string `query:"cursor"`
	}) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id := parseCursor(input.Cursor)
		view, err := e.GetConversation(ctx, input.ConversationID, userID, input.Limit, ts, id)
		if err != nil {
			return nil, handleError(err)
		}
		res := ConversationResponse{
			Conversation: view.Conversation,
			Participants: nonNilSlice(view.Participants),
			Messages:     nonNilSlice(view.Messages),
			UnreadCount:  view.UnreadCount,
		}
		if n := len(view.Messages); n > 0 && input.Limit > 0 && n == input.Limit {
			last := view.Messages[n-1]
			res.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-participant",
		Method:        http.MethodPost,
		Path:          "/conversations/{conversation_id}/participants",
		Summary:       "Add a participant",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ConversationID string                `path:"conversation_id"`
		Body           AddParticipantRequest `json:"body"`
	}) (*struct {
		Body domain.ConversationParticipant `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.UserID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation", "user_id is required", nil)
		}
		p, err := e.AddParticipant(ctx, input.ConversationID, input.Body.UserID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConversationParticipant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/conversations/{conversation_id}/messages",
		Summary:       "Post a message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string             `path:"conversation_id"`
		Body           PostMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PostMessage(ctx, input.ConversationID, userID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-conversation-read",
		Method:      http.MethodPost,
		Path:        "/conversations/{conversation_id}/read",
		Summary:     "Mark conversation read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string `path:"conversation_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkConversationRead(ctx, input.ConversationID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}/unread",
		Summary:     "Unread message count",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string `path:"conversation_id"`
	}) (*struct {
		Body UnreadCountResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.UnreadCount(ctx, input.ConversationID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnreadCountResponse `json:"body"`
		}{Body: UnreadCountResponse{
			ConversationID: input.ConversationID,
			UserID:         userID,
			UnreadCount:    n,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log (newest first)",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation", "cursor must be an event id", nil)
			}
			cursor = parsed
		}
		evts, err := e.Repo.LatestEventsFrom(ctx, limit, cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: nonNilSlice(evts)}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key (stores the hash only)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Key) == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation", "key is required", nil)
		}
		k := domain.APIKey{
			ID:      uuid.NewString(),
			UserID:  userID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(input.Body.Key),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, k.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List my API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID: principal.UserID,
			Source: principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, user)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
