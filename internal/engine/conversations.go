package engine

import (
	"context"
	"strings"

	"gigline/internal/apperr"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// ConversationCreateOptions are parameters for opening a conversation.
// Exactly one of JobID or ContractID must be set.
type ConversationCreateOptions struct {
	JobID          string
	ContractID     string
	ParticipantIDs []string
	ActorID        string
}

// CreateConversation opens a thread under a job or a contract. The creator is
// always a participant; duplicates in the participant list collapse.
func (e Engine) CreateConversation(ctx context.Context, opts ConversationCreateOptions) (domain.Conversation, error) {
	if (opts.JobID == "") == (opts.ContractID == "") {
		return domain.Conversation{}, apperr.ErrInvalidParent
	}
	if opts.ActorID == "" {
		return domain.Conversation{}, apperr.Validation("actor is required")
	}

	now := e.nowStr()
	conv := domain.Conversation{
		ID:        newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.JobID != "" {
		if _, err := e.GetJob(ctx, opts.JobID); err != nil {
			return domain.Conversation{}, err
		}
		conv.JobID = &opts.JobID
	} else {
		if _, err := e.GetContract(ctx, opts.ContractID); err != nil {
			return domain.Conversation{}, err
		}
		conv.ContractID = &opts.ContractID
	}

	members := []string{opts.ActorID}
	seen := map[string]bool{opts.ActorID: true}
	for _, id := range opts.ParticipantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	for _, id := range members {
		if _, err := e.Repo.GetUser(ctx, id); err != nil {
			if err == repo.ErrNotFound {
				return domain.Conversation{}, apperr.NotFound("user %s not found", id)
			}
			return domain.Conversation{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertConversation(ctx, tx, conv); err != nil {
		return domain.Conversation{}, err
	}
	for _, id := range members {
		p := domain.ConversationParticipant{
			ID:             newID(),
			ConversationID: conv.ID,
			UserID:         id,
			CreatedAt:      now,
		}
		if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
			return domain.Conversation{}, err
		}
	}
	payload := events.EventPayload{}
	if conv.JobID != nil {
		payload["job_id"] = *conv.JobID
	}
	if conv.ContractID != nil {
		payload["contract_id"] = *conv.ContractID
	}
	if err := e.writer().Append(ctx, tx, "conversation.created", "conversation", conv.ID, opts.ActorID, payload); err != nil {
		return domain.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// AddParticipant brings a user into a conversation. Joining twice is a
// conflict.
func (e Engine) AddParticipant(ctx context.Context, conversationID, userID, actorID string) (domain.ConversationParticipant, error) {
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		if err == repo.ErrNotFound {
			return domain.ConversationParticipant{}, apperr.NotFound("conversation %s not found", conversationID)
		}
		return domain.ConversationParticipant{}, err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		if err == repo.ErrNotFound {
			return domain.ConversationParticipant{}, apperr.NotFound("user %s not found", userID)
		}
		return domain.ConversationParticipant{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConversationParticipant{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetParticipantTx(ctx, tx, conversationID, userID); err == nil {
		return domain.ConversationParticipant{}, apperr.ErrDuplicateParticipant
	} else if err != repo.ErrNotFound {
		return domain.ConversationParticipant{}, err
	}

	p := domain.ConversationParticipant{
		ID:             newID(),
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      e.nowStr(),
	}
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		if isUniqueViolation(err, "conversation_participants.conversation_id") {
			return domain.ConversationParticipant{}, apperr.ErrDuplicateParticipant
		}
		return domain.ConversationParticipant{}, err
	}
	if err := e.writer().Append(ctx, tx, "conversation.participant_added", "conversation", conversationID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return domain.ConversationParticipant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ConversationParticipant{}, err
	}
	return p, nil
}

// PostMessage appends a message. The sender must already be a participant and
// is marked as having read their own message in the same transaction, so a
// sender's unread count never includes what they just wrote.
func (e Engine) PostMessage(ctx context.Context, conversationID, senderID, body string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, apperr.Validation("message body is required")
	}
	if e.Config != nil && len(body) > e.Config.Limits.MessageMaxChars {
		return domain.Message{}, apperr.Validation("message body exceeds %d characters", e.Config.Limits.MessageMaxChars)
	}
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		if err == repo.ErrNotFound {
			return domain.Message{}, apperr.NotFound("conversation %s not found", conversationID)
		}
		return domain.Message{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetParticipantTx(ctx, tx, conversationID, senderID); err != nil {
		if err == repo.ErrNotFound {
			return domain.Message{}, apperr.ErrNotParticipant
		}
		return domain.Message{}, err
	}

	now := e.nowStr()
	m := domain.Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, err
	}
	if err := e.Repo.SetLastReadAt(ctx, tx, conversationID, senderID, m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	if err := e.Repo.TouchConversation(ctx, tx, conversationID, now); err != nil {
		return domain.Message{}, err
	}
	if err := e.writer().Append(ctx, tx, "message.posted", "message", m.ID, senderID, events.EventPayload{"conversation_id": conversationID}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// MarkConversationRead moves the user's read cursor to now.
func (e Engine) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		if err == repo.ErrNotFound {
			return apperr.NotFound("conversation %s not found", conversationID)
		}
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.SetLastReadAt(ctx, tx, conversationID, userID, e.nowStr()); err != nil {
		if err == repo.ErrNotFound {
			return apperr.ErrNotParticipant
		}
		return err
	}
	return tx.Commit()
}

// UnreadCount reports how many messages the user has not read yet. A user
// with no participant row gets 0, a participant who never read gets the full
// message count.
func (e Engine) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		if err == repo.ErrNotFound {
			return 0, apperr.NotFound("conversation %s not found", conversationID)
		}
		return 0, err
	}
	return e.Repo.UnreadCount(ctx, conversationID, userID)
}

// ConversationView is a single conversation with its message page.
type ConversationView struct {
	Conversation domain.Conversation
	Participants []domain.User
	Messages     []domain.Message
	UnreadCount  int
}

// GetConversation returns the thread for a participant, newest messages
// first.
func (e Engine) GetConversation(ctx context.Context, conversationID, userID string, limit int, cursorCreatedAt, cursorID string) (ConversationView, error) {
	conv, err := e.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		if err == repo.ErrNotFound {
			return ConversationView{}, apperr.NotFound("conversation %s not found", conversationID)
		}
		return ConversationView{}, err
	}
	if _, err := e.Repo.GetParticipant(ctx, conversationID, userID); err != nil {
		if err == repo.ErrNotFound {
			return ConversationView{}, apperr.ErrNotParticipant
		}
		return ConversationView{}, err
	}
	if limit <= 0 && e.Config != nil {
		limit = e.Config.Limits.PageSize
	}
	msgs, err := e.Repo.ListMessages(ctx, conversationID, limit, cursorCreatedAt, cursorID)
	if err != nil {
		return ConversationView{}, err
	}
	users, err := e.Repo.ConversationUsers(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	unread, err := e.Repo.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return ConversationView{}, err
	}
	return ConversationView{Conversation: conv, Participants: users, Messages: msgs, UnreadCount: unread}, nil
}

// ListConversationsForUser returns per-conversation summaries ordered by last
// activity.
func (e Engine) ListConversationsForUser(ctx context.Context, userID string, limit int, cursorUpdatedAt, cursorID string) ([]domain.ConversationSummary, error) {
	if limit <= 0 && e.Config != nil {
		limit = e.Config.Limits.PageSize
	}
	convs, err := e.Repo.ListConversationsForUser(ctx, userID, limit, cursorUpdatedAt, cursorID)
	if err != nil {
		return nil, err
	}
	var res []domain.ConversationSummary
	for _, conv := range convs {
		users, err := e.Repo.ConversationUsers(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		last, err := e.Repo.LastMessage(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		unread, err := e.Repo.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		res = append(res, domain.ConversationSummary{
			Conversation: conv,
			Participants: users,
			LastMessage:  last,
			UnreadCount:  unread,
		})
	}
	return res, nil
}
