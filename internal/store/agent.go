package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hiveplane/hiveplane/internal/models"
)

// --- Checkpoint Operations ---

// SaveCheckpoint upserts the agent's single-row checkpoint. No history is
// kept; each save replaces the previous one.
func (s *Store) SaveCheckpoint(cp models.Checkpoint) (*models.Checkpoint, error) {
	cp.UpdatedAt = s.now().UTC()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO checkpoint (id, conversation_summary, accomplishments, pending_work, recent_context, files_edited, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		cp.ConversationSummary, nullable(marshalStrings(cp.Accomplishments)),
		nullable(marshalStrings(cp.PendingWork)), nullable(cp.RecentContext),
		nullable(marshalStrings(cp.FilesEdited)), cp.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	return &cp, nil
}

// GetCheckpoint returns the saved checkpoint, or nil when none was saved yet.
func (s *Store) GetCheckpoint() (*models.Checkpoint, error) {
	cp := &models.Checkpoint{}
	var accomplishments, pendingWork, recentContext, filesEdited sql.NullString
	err := s.db.QueryRow(
		`SELECT conversation_summary, accomplishments, pending_work, recent_context, files_edited, updated_at
		 FROM checkpoint WHERE id = 1`,
	).Scan(&cp.ConversationSummary, &accomplishments, &pendingWork, &recentContext, &filesEdited, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	cp.Accomplishments = unmarshalStrings(accomplishments)
	cp.PendingWork = unmarshalStrings(pendingWork)
	cp.RecentContext = recentContext.String
	cp.FilesEdited = unmarshalStrings(filesEdited)
	return cp, nil
}

// --- Inbox Operations ---

// AddInboxMessage appends a direct message to the agent's inbox.
func (s *Store) AddInboxMessage(from string, msgType models.AuthorType, text string) (*models.InboxMessage, error) {
	m := &models.InboxMessage{
		ID:        uuid.New().String(),
		From:      from,
		Type:      msgType,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO inbox (id, sender, type, text, read, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		m.ID, m.From, m.Type, m.Text, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert inbox message: %w", err)
	}
	return m, nil
}

// ListInbox returns inbox messages most recent first, capped at limit. With
// unreadOnly set, read messages are filtered out.
func (s *Store) ListInbox(limit int, unreadOnly bool) ([]models.InboxMessage, error) {
	query := `SELECT id, sender, type, text, read, created_at FROM inbox`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var msgs []models.InboxMessage
	for rows.Next() {
		var m models.InboxMessage
		var read int
		if err := rows.Scan(&m.ID, &m.From, &m.Type, &m.Text, &read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inbox message: %w", err)
		}
		m.Read = read != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flips the read flag on the given message ids. Unknown ids are
// ignored; the count of actually updated rows is returned.
func (s *Store) MarkRead(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.Exec(`UPDATE inbox SET read = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UnreadCount returns how many inbox messages are unread.
func (s *Store) UnreadCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM inbox WHERE read = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// --- Memory Operations ---

// AddAgentMemory appends a private memory snippet.
func (s *Store) AddAgentMemory(category, content string, tags []string) (*models.MemoryItem, error) {
	item := &models.MemoryItem{
		ID:        uuid.New().String(),
		Category:  category,
		Content:   content,
		Tags:      tags,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO memory (id, category, content, tags, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, nullable(item.Category), item.Content, nullable(marshalStrings(item.Tags)), item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return item, nil
}

// QueryAgentMemory filters memories by category and free-text match over
// content and tags, most recent first, capped at limit.
func (s *Store) QueryAgentMemory(category, q string, limit int) ([]models.MemoryItem, error) {
	query := `SELECT id, category, content, tags, created_at FROM memory`
	var conds []string
	var args []interface{}
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if q != "" {
		conds = append(conds, "(content LIKE ? OR tags LIKE ?)")
		like := "%" + strings.TrimSpace(q) + "%"
		args = append(args, like, like)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var items []models.MemoryItem
	for rows.Next() {
		var item models.MemoryItem
		var category, tags sql.NullString
		if err := rows.Scan(&item.ID, &category, &item.Content, &tags, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		item.Category = category.String
		item.Tags = unmarshalStrings(tags)
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountAgentMemory returns the total number of stored memories.
func (s *Store) CountAgentMemory() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memory: %w", err)
	}
	return n, nil
}
