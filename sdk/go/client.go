package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Budget      *int64 `json:"budget,omitempty"`
	BudgetMin   *int64 `json:"budget_min,omitempty"`
	BudgetMax   *int64 `json:"budget_max,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Proposal represents a musician's pitch on a job.
type Proposal struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	MusicianID   string `json:"musician_id"`
	QuoteTotal   int64  `json:"quote_total"`
	DeliveryDays int    `json:"delivery_days"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// Contract represents an accepted proposal's binding agreement.
type Contract struct {
	ID          string `json:"id"`
	ProposalID  string `json:"proposal_id"`
	JobID       string `json:"job_id"`
	ClientID    string `json:"client_id"`
	MusicianID  string `json:"musician_id"`
	EscrowTotal int64  `json:"escrow_total"`
	Status      string `json:"status"`
}

// Conversation is a thread under a job or a contract.
type Conversation struct {
	ID         string  `json:"id"`
	JobID      *string `json:"job_id,omitempty"`
	ContractID *string `json:"contract_id,omitempty"`
}

// Message is a single conversation entry.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	CreatedAt      string `json:"created_at"`
}

// AcceptResult is everything acceptance creates.
type AcceptResult struct {
	Proposal     Proposal     `json:"proposal"`
	Contract     Contract     `json:"contract"`
	Conversation Conversation `json:"conversation"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateJob posts a draft job.
func (c *Client) CreateJob(ctx context.Context, title, description string, budget *int64) (Job, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	if budget != nil {
		body["budget"] = *budget
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", body, &resp)
	return resp, err
}

// PublishJob moves a draft job to published.
func (c *Client) PublishJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	endpoint := fmt.Sprintf("jobs/%s/publish", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitProposal pitches on a job.
func (c *Client) SubmitProposal(ctx context.Context, jobID string, quoteTotal int64, deliveryDays int, coverMessage string) (Proposal, error) {
	body := map[string]any{
		"quote_total":   quoteTotal,
		"delivery_days": deliveryDays,
		"cover_message": coverMessage,
	}
	var resp Proposal
	endpoint := fmt.Sprintf("jobs/%s/proposals", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptProposal accepts a proposal, returning the contract and conversation.
func (c *Client) AcceptProposal(ctx context.Context, proposalID string) (AcceptResult, error) {
	var resp AcceptResult
	endpoint := fmt.Sprintf("proposals/%s/accept", url.PathEscape(proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectProposal declines a proposal.
func (c *Client) RejectProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("proposals/%s/reject", url.PathEscape(proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// PostMessage appends a message to a conversation.
func (c *Client) PostMessage(ctx context.Context, conversationID, body string) (Message, error) {
	payload := map[string]any{"body": body}
	var resp Message
	endpoint := fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// MarkRead moves the caller's read cursor to now.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("conversations/%s/read", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// UnreadCount returns the caller's unread message count.
func (c *Client) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	endpoint := fmt.Sprintf("conversations/%s/unread", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.UnreadCount, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
