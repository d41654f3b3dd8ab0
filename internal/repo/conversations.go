package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

func scanConversation(scan func(dest ...any) error) (domain.Conversation, error) {
	var c domain.Conversation
	var jobID, contractID sql.NullString
	err := scan(&c.ID, &jobID, &contractID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if jobID.Valid {
		c.JobID = &jobID.String
	}
	if contractID.Valid {
		c.ContractID = &contractID.String
	}
	return c, nil
}

func (r Repo) InsertConversation(ctx context.Context, tx *sql.Tx, c domain.Conversation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO conversations(id,job_id,contract_id,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, nullableStringPtr(c.JobID), nullableStringPtr(c.ContractID), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,job_id,contract_id,created_at,updated_at FROM conversations WHERE id=?`, id)
	c, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) TouchConversation(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.ConversationParticipant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants(id,conversation_id,user_id,last_read_at,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.ConversationID, p.UserID, nullableStringPtr(p.LastReadAt), p.CreatedAt)
	return err
}

func scanParticipant(scan func(dest ...any) error) (domain.ConversationParticipant, error) {
	var p domain.ConversationParticipant
	var lastRead sql.NullString
	err := scan(&p.ID, &p.ConversationID, &p.UserID, &lastRead, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if lastRead.Valid {
		p.LastReadAt = &lastRead.String
	}
	return p, nil
}

func (r Repo) GetParticipant(ctx context.Context, conversationID, userID string) (domain.ConversationParticipant, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,conversation_id,user_id,last_read_at,created_at FROM conversation_participants WHERE conversation_id=? AND user_id=?`,
		conversationID, userID)
	p, err := scanParticipant(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetParticipantTx(ctx context.Context, tx *sql.Tx, conversationID, userID string) (domain.ConversationParticipant, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,conversation_id,user_id,last_read_at,created_at FROM conversation_participants WHERE conversation_id=? AND user_id=?`,
		conversationID, userID)
	p, err := scanParticipant(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListParticipants(ctx context.Context, conversationID string) ([]domain.ConversationParticipant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,user_id,last_read_at,created_at FROM conversation_participants WHERE conversation_id=? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConversationParticipant
	for rows.Next() {
		p, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetLastReadAt(ctx context.Context, tx *sql.Tx, conversationID, userID, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE conversation_participants SET last_read_at=? WHERE conversation_id=? AND user_id=?`,
		ts, conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id,conversation_id,sender_id,body,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	var m domain.Message
	err := r.DB.QueryRowContext(ctx, `SELECT id,conversation_id,sender_id,body,created_at FROM messages WHERE id=?`, id).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// ListMessages pages newest-first through a conversation's messages.
func (r Repo) ListMessages(ctx context.Context, conversationID string, limit int, cursorCreatedAt, cursorID string) ([]domain.Message, error) {
	query := `SELECT id,conversation_id,sender_id,body,created_at FROM messages WHERE conversation_id=?`
	args := []any{conversationID}
	if cursorCreatedAt != "" && cursorID != "" {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LastMessage returns the most recent message in a conversation, or nil if empty.
func (r Repo) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var m domain.Message
	err := r.DB.QueryRowContext(ctx, `SELECT id,conversation_id,sender_id,body,created_at FROM messages WHERE conversation_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UnreadCount counts messages created strictly after the participant's read
// cursor. Non-participants and never-read participants are handled per the
// read-cursor rules: no participant row yields 0, a null cursor counts every
// message.
func (r Repo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	p, err := r.GetParticipant(ctx, conversationID, userID)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id=?`
	args := []any{conversationID}
	if p.LastReadAt != nil {
		query += ` AND created_at > ?`
		args = append(args, *p.LastReadAt)
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListConversationsForUser returns the user's conversations ordered by last
// activity, newest first.
func (r Repo) ListConversationsForUser(ctx context.Context, userID string, limit int, cursorUpdatedAt, cursorID string) ([]domain.Conversation, error) {
	query := `SELECT c.id,c.job_id,c.contract_id,c.created_at,c.updated_at
FROM conversations c
JOIN conversation_participants cp ON cp.conversation_id = c.id
WHERE cp.user_id=?`
	args := []any{userID}
	if cursorUpdatedAt != "" && cursorID != "" {
		query += ` AND (c.updated_at < ? OR (c.updated_at = ? AND c.id < ?))`
		args = append(args, cursorUpdatedAt, cursorUpdatedAt, cursorID)
	}
	query += ` ORDER BY c.updated_at DESC, c.id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ConversationUsers returns the user records for a conversation's participants.
func (r Repo) ConversationUsers(ctx context.Context, conversationID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.name,u.email,u.created_at
FROM users u
JOIN conversation_participants cp ON cp.user_id = u.id
WHERE cp.conversation_id=?
ORDER BY cp.created_at ASC, u.id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
