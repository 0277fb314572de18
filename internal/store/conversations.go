package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ConversationStore persists [Conversation] and [Message] rows. Messages are
// append-only; history edits are not supported.
type ConversationStore struct {
	db DB
}

// Create starts a new conversation about an audio file.
func (s *ConversationStore) Create(ctx context.Context, c *Conversation) error {
	const query = `
		INSERT INTO conversations (id, audio_file_id)
		VALUES ($1, $2)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, c.ID, c.AudioFileID).Scan(&c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: conversation %q already exists", c.ID)
		}
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// Latest returns the most recent conversation for an audio file, or
// [ErrNotFound] when none exists. New questions about a file always join its
// latest conversation.
func (s *ConversationStore) Latest(ctx context.Context, audioFileID string) (*Conversation, error) {
	const query = `
		SELECT id, audio_file_id, created_at
		FROM conversations
		WHERE audio_file_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var c Conversation
	err := s.db.QueryRow(ctx, query, audioFileID).Scan(&c.ID, &c.AudioFileID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversation for %q", ErrNotFound, audioFileID)
		}
		return nil, fmt.Errorf("store: latest conversation for %q: %w", audioFileID, err)
	}
	return &c, nil
}

// AppendMessage appends one chat turn to a conversation.
func (s *ConversationStore) AppendMessage(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (conversation_id, role, content, sources)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	srcJSON, err := json.Marshal(emptySources(m.Sources))
	if err != nil {
		return fmt.Errorf("store: marshal sources: %w", err)
	}

	err = s.db.QueryRow(ctx, query, m.ConversationID, m.Role, m.Content, srcJSON).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in insertion order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: messages of %q: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			srcJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &srcJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: messages scan: %w", err)
		}
		if err := json.Unmarshal(srcJSON, &m.Sources); err != nil {
			return nil, fmt.Errorf("store: unmarshal sources: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages of %q: %w", conversationID, err)
	}
	return msgs, nil
}

// emptySources normalises a nil slice so the stored JSON is [] rather than
// null.
func emptySources(src []string) []string {
	if src == nil {
		return []string{}
	}
	return src
}
