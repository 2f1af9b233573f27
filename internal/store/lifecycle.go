package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hiveplane/hiveplane/internal/models"
)

// Soul, body and transfer rows live in the coordinator instance's database;
// the soul/body protocol is layered on the same serialized actor.

// --- Soul Operations ---

// CreateSoul inserts a new logical identity.
func (s *Store) CreateSoul(name, identity string, goals []string) (*models.Soul, error) {
	now := s.now().UTC()
	soul := &models.Soul{
		SoulID:    uuid.New().String(),
		Name:      name,
		Identity:  identity,
		Goals:     goals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO souls (soul_id, name, identity, goals, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		soul.SoulID, soul.Name, nullable(soul.Identity), nullable(marshalStrings(soul.Goals)),
		soul.CreatedAt, soul.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert soul: %w", err)
	}
	return soul, nil
}

// GetSoul retrieves a soul by id, or nil when unknown.
func (s *Store) GetSoul(id string) (*models.Soul, error) {
	row := s.db.QueryRow(
		`SELECT soul_id, name, identity, knowledge, current_task, pending_work, blockers, goals,
		        total_tokens, transfer_count, completion_rate, current_body_id, body_history, created_at, updated_at
		 FROM souls WHERE soul_id = ?`, id)
	soul, err := scanSoul(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query soul: %w", err)
	}
	return soul, nil
}

// ListSouls returns all souls, newest first.
func (s *Store) ListSouls() ([]models.Soul, error) {
	rows, err := s.db.Query(
		`SELECT soul_id, name, identity, knowledge, current_task, pending_work, blockers, goals,
		        total_tokens, transfer_count, completion_rate, current_body_id, body_history, created_at, updated_at
		 FROM souls ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query souls: %w", err)
	}
	defer rows.Close()

	var souls []models.Soul
	for rows.Next() {
		soul, err := scanSoul(rows)
		if err != nil {
			return nil, fmt.Errorf("scan soul: %w", err)
		}
		souls = append(souls, *soul)
	}
	return souls, rows.Err()
}

// SaveSoul writes back a mutated soul row.
func (s *Store) SaveSoul(soul *models.Soul) error {
	soul.UpdatedAt = s.now().UTC()
	_, err := s.db.Exec(
		`UPDATE souls SET name = ?, identity = ?, knowledge = ?, current_task = ?, pending_work = ?,
		        blockers = ?, goals = ?, total_tokens = ?, transfer_count = ?, completion_rate = ?,
		        current_body_id = ?, body_history = ?, updated_at = ?
		 WHERE soul_id = ?`,
		soul.Name, nullable(soul.Identity), marshalJSON(soul.Knowledge), nullable(soul.CurrentTask),
		nullable(marshalStrings(soul.PendingWork)), nullable(marshalStrings(soul.Blockers)),
		nullable(marshalStrings(soul.Goals)), soul.Metrics.TotalTokensProcessed, soul.Metrics.TransferCount,
		soul.Metrics.CompletionRate, nullable(soul.CurrentBodyID), marshalJSON(soul.BodyHistory),
		soul.UpdatedAt, soul.SoulID,
	)
	if err != nil {
		return fmt.Errorf("save soul: %w", err)
	}
	return nil
}

func scanSoul(row rowScanner) (*models.Soul, error) {
	soul := &models.Soul{}
	var identity, knowledge, currentTask, pendingWork, blockers, goals, currentBodyID, bodyHistory sql.NullString
	err := row.Scan(&soul.SoulID, &soul.Name, &identity, &knowledge, &currentTask, &pendingWork,
		&blockers, &goals, &soul.Metrics.TotalTokensProcessed, &soul.Metrics.TransferCount,
		&soul.Metrics.CompletionRate, &currentBodyID, &bodyHistory, &soul.CreatedAt, &soul.UpdatedAt)
	if err != nil {
		return nil, err
	}
	soul.Identity = identity.String
	unmarshalJSON(knowledge, &soul.Knowledge)
	soul.CurrentTask = currentTask.String
	soul.PendingWork = unmarshalStrings(pendingWork)
	soul.Blockers = unmarshalStrings(blockers)
	soul.Goals = unmarshalStrings(goals)
	soul.CurrentBodyID = currentBodyID.String
	unmarshalJSON(bodyHistory, &soul.BodyHistory)
	return soul, nil
}

// --- Body Operations ---

// CreateBody inserts a new body in spawning state.
func (s *Store) CreateBody() (*models.Body, error) {
	now := s.now().UTC()
	body := &models.Body{
		BodyID:        uuid.New().String(),
		Status:        models.BodySpawning,
		TokenStatus:   models.TokenSafe,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	_, err := s.db.Exec(
		`INSERT INTO bodies (body_id, status, last_heartbeat, created_at) VALUES (?, ?, ?, ?)`,
		body.BodyID, body.Status, body.LastHeartbeat, body.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert body: %w", err)
	}
	return body, nil
}

// GetBody retrieves a body by id, or nil when unknown. Token status and the
// minutes-to-limit estimate are derived by the lifecycle layer, not stored.
func (s *Store) GetBody(id string) (*models.Body, error) {
	row := s.db.QueryRow(
		`SELECT body_id, soul_id, status, current_tokens, peak_tokens, burn_rate, last_heartbeat, error_count, created_at
		 FROM bodies WHERE body_id = ?`, id)
	body, err := scanBody(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query body: %w", err)
	}
	return body, nil
}

// ListBodies returns bodies newest first, optionally filtered by soul.
func (s *Store) ListBodies(soulID string) ([]models.Body, error) {
	query := `SELECT body_id, soul_id, status, current_tokens, peak_tokens, burn_rate, last_heartbeat, error_count, created_at FROM bodies`
	var args []interface{}
	if soulID != "" {
		query += ` WHERE soul_id = ?`
		args = append(args, soulID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bodies: %w", err)
	}
	defer rows.Close()

	var bodies []models.Body
	for rows.Next() {
		body, err := scanBody(rows)
		if err != nil {
			return nil, fmt.Errorf("scan body: %w", err)
		}
		bodies = append(bodies, *body)
	}
	return bodies, rows.Err()
}

// CountBodies returns total and terminated body counts.
func (s *Store) CountBodies() (total, terminated int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*) FROM bodies`).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("count bodies: %w", err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM bodies WHERE status = ?`, models.BodyTerminated).Scan(&terminated)
	if err != nil {
		return 0, 0, fmt.Errorf("count terminated bodies: %w", err)
	}
	return total, terminated, nil
}

// SaveBody writes back a mutated body row.
func (s *Store) SaveBody(body *models.Body) error {
	_, err := s.db.Exec(
		`UPDATE bodies SET soul_id = ?, status = ?, current_tokens = ?, peak_tokens = ?, burn_rate = ?,
		        last_heartbeat = ?, error_count = ?
		 WHERE body_id = ?`,
		nullable(body.SoulID), body.Status, body.CurrentTokens, body.PeakTokens, body.TokenBurnRate,
		body.LastHeartbeat, body.ErrorCount, body.BodyID,
	)
	if err != nil {
		return fmt.Errorf("save body: %w", err)
	}
	return nil
}

func scanBody(row rowScanner) (*models.Body, error) {
	body := &models.Body{}
	var soulID sql.NullString
	err := row.Scan(&body.BodyID, &soulID, &body.Status, &body.CurrentTokens, &body.PeakTokens,
		&body.TokenBurnRate, &body.LastHeartbeat, &body.ErrorCount, &body.CreatedAt)
	if err != nil {
		return nil, err
	}
	body.SoulID = soulID.String
	return body, nil
}

// --- Transfer Operations ---

// CreateTransfer records a new soul migration in initiated state.
func (s *Store) CreateTransfer(soulID, fromBodyID, toBodyID, reason string, tokensSaved int64) (*models.Transfer, error) {
	now := s.now().UTC()
	t := &models.Transfer{
		TransferID:  uuid.New().String(),
		SoulID:      soulID,
		FromBodyID:  fromBodyID,
		ToBodyID:    toBodyID,
		Status:      models.TransferInitiated,
		Reason:      reason,
		TokensSaved: tokensSaved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(
		`INSERT INTO transfers (transfer_id, soul_id, from_body_id, to_body_id, status, reason, tokens_saved, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TransferID, t.SoulID, t.FromBodyID, t.ToBodyID, t.Status, nullable(t.Reason), t.TokensSaved,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transfer: %w", err)
	}
	return t, nil
}

// GetTransfer retrieves a transfer by id, or nil when unknown.
func (s *Store) GetTransfer(id string) (*models.Transfer, error) {
	row := s.db.QueryRow(
		`SELECT transfer_id, soul_id, from_body_id, to_body_id, status, reason, tokens_saved, error, created_at, updated_at, completed_at
		 FROM transfers WHERE transfer_id = ?`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer: %w", err)
	}
	return t, nil
}

// ListTransfers returns transfers newest first. With activeOnly set, only
// non-terminal transfers are returned.
func (s *Store) ListTransfers(activeOnly bool) ([]models.Transfer, error) {
	query := `SELECT transfer_id, soul_id, from_body_id, to_body_id, status, reason, tokens_saved, error, created_at, updated_at, completed_at FROM transfers`
	var args []interface{}
	if activeOnly {
		query += ` WHERE status NOT IN (?, ?, ?)`
		args = append(args, models.TransferCompleted, models.TransferFailed, models.TransferRolledBack)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// ActiveTransferForSoul returns the soul's non-terminal transfer, if any.
func (s *Store) ActiveTransferForSoul(soulID string) (*models.Transfer, error) {
	row := s.db.QueryRow(
		`SELECT transfer_id, soul_id, from_body_id, to_body_id, status, reason, tokens_saved, error, created_at, updated_at, completed_at
		 FROM transfers WHERE soul_id = ? AND status NOT IN (?, ?, ?) ORDER BY created_at DESC LIMIT 1`,
		soulID, models.TransferCompleted, models.TransferFailed, models.TransferRolledBack)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active transfer: %w", err)
	}
	return t, nil
}

// SaveTransfer writes back a mutated transfer row.
func (s *Store) SaveTransfer(t *models.Transfer) error {
	t.UpdatedAt = s.now().UTC()
	var completedAt sql.NullTime
	if t.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE transfers SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE transfer_id = ?`,
		t.Status, nullable(t.Error), t.UpdatedAt, completedAt, t.TransferID,
	)
	if err != nil {
		return fmt.Errorf("save transfer: %w", err)
	}
	return nil
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	t := &models.Transfer{}
	var reason, errText sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.TransferID, &t.SoulID, &t.FromBodyID, &t.ToBodyID, &t.Status, &reason,
		&t.TokensSaved, &errText, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Reason = reason.String
	t.Error = errText.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}
