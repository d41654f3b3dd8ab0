package domain

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Job struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"client_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Budget       *int64  `json:"budget,omitempty"`
	BudgetMin    *int64  `json:"budget_min,omitempty"`
	BudgetMax    *int64  `json:"budget_max,omitempty"`
	Remote       bool    `json:"remote"`
	DeliveryDate *string `json:"delivery_date,omitempty" format:"date"`
	Status       string  `json:"status" enum:"draft,published,in_review,contracted,completed,closed"`
	PublishedAt  *string `json:"published_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Proposal struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	MusicianID   string `json:"musician_id"`
	QuoteTotal   int64  `json:"quote_total"`
	DeliveryDays int    `json:"delivery_days"`
	CoverMessage string `json:"cover_message,omitempty"`
	Status       string `json:"status" enum:"submitted,shortlisted,accepted,rejected,withdrawn"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Contract struct {
	ID          string `json:"id"`
	ProposalID  string `json:"proposal_id"`
	JobID       string `json:"job_id"`
	ClientID    string `json:"client_id"`
	MusicianID  string `json:"musician_id"`
	EscrowTotal int64  `json:"escrow_total"`
	Status      string `json:"status" enum:"active,in_progress,delivered,completed,canceled"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Conversation is parented by exactly one of a Job or a Contract.
type Conversation struct {
	ID         string  `json:"id"`
	JobID      *string `json:"job_id,omitempty"`
	ContractID *string `json:"contract_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// ConversationParticipant carries the per-user read cursor. A nil LastReadAt
// means the user has never read the conversation and every message is unread.
type ConversationParticipant struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	UserID         string  `json:"user_id"`
	LastReadAt     *string `json:"last_read_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// ConversationSummary is the listing shape: participants, last message and the
// unread count for the requesting user.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Participants []User       `json:"participants"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
