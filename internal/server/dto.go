package server

import (
	"gigline/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
}

type CreateJobRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Budget       *int64 `json:"budget,omitempty"`
	BudgetMin    *int64 `json:"budget_min,omitempty"`
	BudgetMax    *int64 `json:"budget_max,omitempty"`
	Remote       bool   `json:"remote,omitempty"`
	DeliveryDate string `json:"delivery_date,omitempty" format:"date"`
}

type SetJobStatusRequest struct {
	Status string `json:"status" enum:"in_review,completed,closed"`
}

type CreateProposalRequest struct {
	QuoteTotal   int64  `json:"quote_total"`
	DeliveryDays int    `json:"delivery_days"`
	CoverMessage string `json:"cover_message,omitempty"`
}

type SetContractStatusRequest struct {
	Status string `json:"status" enum:"in_progress,delivered,completed,canceled"`
}

type CreateConversationRequest struct {
	JobID          string   `json:"job_id,omitempty"`
	ContractID     string   `json:"contract_id,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
}

type AddParticipantRequest struct {
	UserID string `json:"user_id"`
}

type PostMessageRequest struct {
	Body string `json:"body"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
	Key  string `json:"key"`
}

// Response payloads

type AcceptProposalResponse struct {
	Proposal     domain.Proposal     `json:"proposal"`
	Contract     domain.Contract     `json:"contract"`
	Conversation domain.Conversation `json:"conversation"`
}

type JobListResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type ProposalListResponse struct {
	Proposals  []domain.Proposal `json:"proposals"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type ContractListResponse struct {
	Contracts []domain.Contract `json:"contracts"`
}

type ConversationListResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	NextCursor    string                       `json:"next_cursor,omitempty"`
}

type ConversationResponse struct {
	Conversation domain.Conversation `json:"conversation"`
	Participants []domain.User       `json:"participants"`
	Messages     []domain.Message    `json:"messages"`
	UnreadCount  int                 `json:"unread_count"`
	NextCursor   string              `json:"next_cursor,omitempty"`
}

type UnreadCountResponse struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UnreadCount    int    `json:"unread_count"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
