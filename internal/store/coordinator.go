package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hiveplane/hiveplane/internal/models"
)

// ErrClaimHeld indicates a live claim by a different owner blocks the upsert.
var ErrClaimHeld = fmt.Errorf("resource already claimed")

// ErrNotOwner indicates the caller does not own the record it tried to mutate.
var ErrNotOwner = fmt.Errorf("not the owner")

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// ErrHandoffUnavailable indicates a handoff precondition failed (wrong
// status, already claimed, or pinned to a different agent).
var ErrHandoffUnavailable = fmt.Errorf("handoff not available")

// --- Agent Operations ---

// UpsertAgent merges non-empty fields of upd into the stored agent row;
// last_seen always advances. A previously unknown agent is inserted with
// status defaulting to active.
func (s *Store) UpsertAgent(upd models.Agent) (*models.Agent, error) {
	existing, err := s.GetAgent(upd.ID)
	if err != nil {
		return nil, err
	}

	merged := upd
	if existing != nil {
		merged = *existing
		if upd.Status != "" {
			merged.Status = upd.Status
		}
		if upd.CurrentTask != "" {
			merged.CurrentTask = upd.CurrentTask
		}
		if upd.WorkingOn != "" {
			merged.WorkingOn = upd.WorkingOn
		}
		if upd.Capabilities != nil {
			merged.Capabilities = upd.Capabilities
		}
		if upd.Offers != nil {
			merged.Offers = upd.Offers
		}
		if upd.Needs != nil {
			merged.Needs = upd.Needs
		}
	}
	if merged.Status == "" {
		merged.Status = models.AgentStatusActive
	}
	merged.LastSeen = s.now().UTC()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO agents (id, status, current_task, working_on, capabilities, offers, needs, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		merged.ID, merged.Status, nullable(merged.CurrentTask), nullable(merged.WorkingOn),
		nullable(marshalStrings(merged.Capabilities)), nullable(marshalStrings(merged.Offers)),
		nullable(marshalStrings(merged.Needs)), merged.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}
	return &merged, nil
}

// GetAgent retrieves an agent by id, or nil when unknown.
func (s *Store) GetAgent(id string) (*models.Agent, error) {
	row := s.db.QueryRow(
		`SELECT id, status, current_task, working_on, capabilities, offers, needs, last_seen
		 FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents most recently seen first. With activeOnly set,
// offline agents are filtered out.
func (s *Store) ListAgents(activeOnly bool) ([]models.Agent, error) {
	query := `SELECT id, status, current_task, working_on, capabilities, offers, needs, last_seen FROM agents`
	var args []interface{}
	if activeOnly {
		query += ` WHERE status != ?`
		args = append(args, models.AgentStatusOffline)
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SetAgentStatus flips an agent's status without touching last_seen, used
// when a push connection drops.
func (s *Store) SetAgentStatus(id string, status models.AgentStatus) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, status, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	var currentTask, workingOn, capabilities, offers, needs sql.NullString
	err := row.Scan(&a.ID, &a.Status, &currentTask, &workingOn, &capabilities, &offers, &needs, &a.LastSeen)
	if err != nil {
		return nil, err
	}
	a.CurrentTask = currentTask.String
	a.WorkingOn = workingOn.String
	a.Capabilities = unmarshalStrings(capabilities)
	a.Offers = unmarshalStrings(offers)
	a.Needs = unmarshalStrings(needs)
	return a, nil
}

// --- Chat Operations ---

// AppendChat appends a message to the group chat and trims the log to the
// rolling window.
func (s *Store) AppendChat(author string, authorType models.AuthorType, text string, window int) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:         uuid.New().String(),
		Author:     author,
		AuthorType: authorType,
		Text:       text,
		Timestamp:  s.now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, author, author_type, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.Author, msg.AuthorType, msg.Text, msg.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// Trim oldest beyond the window.
	_, err = s.db.Exec(
		`DELETE FROM messages WHERE id NOT IN (SELECT id FROM messages ORDER BY timestamp DESC, id DESC LIMIT ?)`,
		window,
	)
	if err != nil {
		return nil, fmt.Errorf("trim messages: %w", err)
	}
	return msg, nil
}

// ListChat returns the most recent limit messages in chronological order.
func (s *Store) ListChat(limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, author, author_type, text, reactions, timestamp FROM
		 (SELECT * FROM messages ORDER BY timestamp DESC, id DESC LIMIT ?)
		 ORDER BY timestamp ASC, id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var reactions sql.NullString
		if err := rows.Scan(&m.ID, &m.Author, &m.AuthorType, &m.Text, &reactions, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		unmarshalJSON(reactions, &m.Reactions)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AddReaction increments an emoji reaction counter on a chat message.
func (s *Store) AddReaction(messageID, emoji string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var reactions sql.NullString
	err := s.db.QueryRow(
		`SELECT id, author, author_type, text, reactions, timestamp FROM messages WHERE id = ?`,
		messageID,
	).Scan(&m.ID, &m.Author, &m.AuthorType, &m.Text, &reactions, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}

	unmarshalJSON(reactions, &m.Reactions)
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	m.Reactions[emoji]++

	_, err = s.db.Exec(`UPDATE messages SET reactions = ? WHERE id = ?`, marshalJSON(m.Reactions), messageID)
	if err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}
	return &m, nil
}

// --- Task Operations ---

// CreateTask inserts a new task with a generated id and timestamps.
func (s *Store) CreateTask(t models.Task) (*models.Task, error) {
	now := s.now().UTC()
	t.ID = uuid.New().String()
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, title, description, status, assignee, created_by, priority, tags, files, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, nullable(t.Assignee), nullable(t.CreatedBy),
		nullable(t.Priority), nullable(marshalStrings(t.Tags)), nullable(marshalStrings(t.Files)),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &t, nil
}

// GetTask retrieves a task by id, or nil when unknown.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, status, assignee, created_by, priority, tags, files, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks newest first, optionally filtered by status and
// assignee.
func (s *Store) ListTasks(status, assignee string) ([]models.Task, error) {
	query := `SELECT id, title, description, status, assignee, created_by, priority, tags, files, created_at, updated_at FROM tasks`
	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if assignee != "" {
		conds = append(conds, "assignee = ?")
		args = append(args, assignee)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask merges non-empty fields of patch into the stored task. There is
// no enforced status machine; callers set status explicitly.
func (s *Store) UpdateTask(id string, patch models.Task) (*models.Task, error) {
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}

	if patch.Title != "" {
		t.Title = patch.Title
	}
	if patch.Description != "" {
		t.Description = patch.Description
	}
	if patch.Status != "" {
		t.Status = patch.Status
	}
	if patch.Assignee != "" {
		t.Assignee = patch.Assignee
	}
	if patch.Priority != "" {
		t.Priority = patch.Priority
	}
	if patch.Tags != nil {
		t.Tags = patch.Tags
	}
	if patch.Files != nil {
		t.Files = patch.Files
	}
	t.UpdatedAt = s.now().UTC()

	_, err = s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, status = ?, assignee = ?, priority = ?, tags = ?, files = ?, updated_at = ?
		 WHERE id = ?`,
		t.Title, nullable(t.Description), t.Status, nullable(t.Assignee), nullable(t.Priority),
		nullable(marshalStrings(t.Tags)), nullable(marshalStrings(t.Files)), t.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var description, assignee, createdBy, priority, tags, files sql.NullString
	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &assignee, &createdBy, &priority, &tags, &files, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Assignee = assignee.String
	t.CreatedBy = createdBy.String
	t.Priority = priority.String
	t.Tags = unmarshalStrings(tags)
	t.Files = unmarshalStrings(files)
	return t, nil
}

// --- Zone Operations ---

// UpsertZone claims or refreshes a zone reservation keyed by zone id.
func (s *Store) UpsertZone(zoneID, path, owner, description string) (*models.Zone, error) {
	z := &models.Zone{
		ZoneID:      zoneID,
		Path:        path,
		Owner:       owner,
		Description: description,
		ClaimedAt:   s.now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO zones (zone_id, path, owner, description, claimed_at) VALUES (?, ?, ?, ?, ?)`,
		z.ZoneID, z.Path, z.Owner, nullable(z.Description), z.ClaimedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert zone: %w", err)
	}
	return z, nil
}

// ReleaseZone deletes a zone only when both zone id and owner match.
func (s *Store) ReleaseZone(zoneID, owner string) error {
	res, err := s.db.Exec(`DELETE FROM zones WHERE zone_id = ? AND owner = ?`, zoneID, owner)
	if err != nil {
		return fmt.Errorf("release zone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// ListZones returns all zones, oldest claim first.
func (s *Store) ListZones() ([]models.Zone, error) {
	rows, err := s.db.Query(
		`SELECT zone_id, path, owner, description, claimed_at FROM zones ORDER BY claimed_at ASC, zone_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		var z models.Zone
		var description sql.NullString
		if err := rows.Scan(&z.ZoneID, &z.Path, &z.Owner, &description, &z.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		z.Description = description.String
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// CheckZone returns the first zone whose path is a string prefix of the
// queried path. First match wins; callers keep zones non-overlapping.
func (s *Store) CheckZone(path string) (*models.Zone, error) {
	zones, err := s.ListZones()
	if err != nil {
		return nil, err
	}
	for i := range zones {
		if strings.HasPrefix(path, zones[i].Path) {
			return &zones[i], nil
		}
	}
	return nil, nil
}

// --- Claim Operations ---

// UpsertClaim claims a logical resource. A live (non-stale) claim by a
// different owner blocks the upsert with ErrClaimHeld and the existing claim
// is returned so the caller can decide how to proceed. A stale foreign claim
// is silently reclaimed.
func (s *Store) UpsertClaim(what, owner, description string, staleAfter time.Duration) (*models.Claim, *models.Claim, error) {
	existing, err := s.GetClaim(what, staleAfter)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil && existing.By != owner && !existing.Stale {
		return nil, existing, ErrClaimHeld
	}

	c := &models.Claim{
		What:        what,
		By:          owner,
		Description: description,
		Since:       s.now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO claims (what, owner, description, since) VALUES (?, ?, ?, ?)`,
		c.What, c.By, nullable(c.Description), c.Since,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert claim: %w", err)
	}
	return c, nil, nil
}

// GetClaim retrieves a claim by key with the stale flag computed at read
// time, or nil when unclaimed.
func (s *Store) GetClaim(what string, staleAfter time.Duration) (*models.Claim, error) {
	c := &models.Claim{}
	var description sql.NullString
	err := s.db.QueryRow(
		`SELECT what, owner, description, since FROM claims WHERE what = ?`, what,
	).Scan(&c.What, &c.By, &description, &c.Since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query claim: %w", err)
	}
	c.Description = description.String
	c.Stale = s.now().UTC().Sub(c.Since) > staleAfter
	return c, nil
}

// ListClaims returns all claims, newest first, with stale flags computed.
func (s *Store) ListClaims(staleAfter time.Duration) ([]models.Claim, error) {
	rows, err := s.db.Query(`SELECT what, owner, description, since FROM claims ORDER BY since DESC`)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	now := s.now().UTC()
	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		var description sql.NullString
		if err := rows.Scan(&c.What, &c.By, &description, &c.Since); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Description = description.String
		c.Stale = now.Sub(c.Since) > staleAfter
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// ReleaseClaim deletes a claim only on owner match.
func (s *Store) ReleaseClaim(what, owner string) error {
	var current string
	err := s.db.QueryRow(`SELECT owner FROM claims WHERE what = ?`, what).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query claim: %w", err)
	}
	if current != owner {
		return ErrNotOwner
	}
	_, err = s.db.Exec(`DELETE FROM claims WHERE what = ?`, what)
	return err
}

// --- Handoff Operations ---

// CreateHandoff inserts a new handoff; every handoff starts pending.
func (s *Store) CreateHandoff(h models.Handoff) (*models.Handoff, error) {
	h.ID = uuid.New().String()
	h.Status = models.HandoffPending
	h.ClaimedBy = ""
	h.CreatedAt = s.now().UTC()
	h.ClaimedAt = nil
	h.CompletedAt = nil

	_, err := s.db.Exec(
		`INSERT INTO handoffs (id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.FromAgent, nullable(h.ToAgent), h.Title, nullable(h.Context), nullable(h.Code),
		nullable(h.FilePath), nullable(marshalStrings(h.NextSteps)), nullable(h.Priority), h.Status, h.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert handoff: %w", err)
	}
	return &h, nil
}

// GetHandoff retrieves a handoff by id, or nil when unknown.
func (s *Store) GetHandoff(id string) (*models.Handoff, error) {
	row := s.db.QueryRow(
		`SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at
		 FROM handoffs WHERE id = ?`, id)
	h, err := scanHandoff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query handoff: %w", err)
	}
	return h, nil
}

// ListHandoffs returns handoffs newest first, optionally filtered by status.
func (s *Store) ListHandoffs(status string) ([]models.Handoff, error) {
	query := `SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at FROM handoffs`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	var handoffs []models.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		handoffs = append(handoffs, *h)
	}
	return handoffs, rows.Err()
}

// ClaimHandoff moves a pending handoff to claimed. It fails when the handoff
// is not pending, or when it is pinned to a different agent.
func (s *Store) ClaimHandoff(id, agentID string) (*models.Handoff, error) {
	h, err := s.GetHandoff(id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNotFound
	}
	if h.Status != models.HandoffPending {
		return nil, ErrHandoffUnavailable
	}
	if h.ToAgent != "" && h.ToAgent != agentID {
		return nil, ErrHandoffUnavailable
	}

	now := s.now().UTC()
	h.Status = models.HandoffClaimed
	h.ClaimedBy = agentID
	h.ClaimedAt = &now

	_, err = s.db.Exec(
		`UPDATE handoffs SET status = ?, claimed_by = ?, claimed_at = ? WHERE id = ?`,
		h.Status, h.ClaimedBy, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim handoff: %w", err)
	}
	return h, nil
}

// CompleteHandoff moves a claimed handoff to completed. Only the claimer may
// complete it; that check and the one in ClaimHandoff are the entire state
// machine.
func (s *Store) CompleteHandoff(id, agentID string) (*models.Handoff, error) {
	h, err := s.GetHandoff(id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNotFound
	}
	if h.Status != models.HandoffClaimed {
		return nil, ErrHandoffUnavailable
	}
	if h.ClaimedBy != agentID {
		return nil, ErrNotOwner
	}

	now := s.now().UTC()
	h.Status = models.HandoffCompleted
	h.CompletedAt = &now

	_, err = s.db.Exec(
		`UPDATE handoffs SET status = ?, completed_at = ? WHERE id = ?`,
		h.Status, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("complete handoff: %w", err)
	}
	return h, nil
}

func scanHandoff(row rowScanner) (*models.Handoff, error) {
	h := &models.Handoff{}
	var toAgent, context, code, filePath, nextSteps, priority, claimedBy sql.NullString
	var claimedAt, completedAt sql.NullTime
	err := row.Scan(&h.ID, &h.FromAgent, &toAgent, &h.Title, &context, &code, &filePath, &nextSteps,
		&priority, &h.Status, &claimedBy, &h.CreatedAt, &claimedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	h.ToAgent = toAgent.String
	h.Context = context.String
	h.Code = code.String
	h.FilePath = filePath.String
	h.NextSteps = unmarshalStrings(nextSteps)
	h.Priority = priority.String
	h.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		h.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		h.CompletedAt = &completedAt.Time
	}
	return h, nil
}
