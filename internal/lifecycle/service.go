// Package lifecycle implements the soul/body transfer protocol: token-budget
// accounting per body and the checkpoint-then-rebind migration that moves a
// logical identity onto a fresh process. It is layered on the coordinator
// actor's records and never bypasses the actor boundary.
package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/models"
	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

// Bundle and knowledge bounds.
const (
	soulMemoryCap    = 200
	bundlePatternCap = 20
	bundleAntiCap    = 10
	bundleMemoryCap  = 30
)

var (
	// ErrNoBoundBody indicates a transfer was initiated for a soul with no
	// current body.
	ErrNoBoundBody = fmt.Errorf("soul has no bound body")

	// ErrTransferActive indicates the soul already has a non-terminal
	// transfer in flight.
	ErrTransferActive = fmt.Errorf("transfer already in progress")

	// ErrSoulBound indicates a bind attempt on a soul that already has a
	// current body; migration must go through a transfer.
	ErrSoulBound = fmt.Errorf("soul already bound to a body")

	// ErrBodyUnavailable indicates the target body is terminated or bound to
	// another soul.
	ErrBodyUnavailable = fmt.Errorf("body not available")

	// ErrBackwardStatus indicates a body status update that would move the
	// lifecycle backward.
	ErrBackwardStatus = fmt.Errorf("body status cannot move backward")

	// ErrBadTransition indicates a transfer state change that is not the next
	// forward step.
	ErrBadTransition = fmt.Errorf("invalid transfer transition")

	// ErrTransferDone indicates the transfer is already in a terminal state.
	ErrTransferDone = fmt.Errorf("transfer already finished")
)

var bodyStatusRank = map[models.BodyStatus]int{
	models.BodySpawning:     0,
	models.BodyReady:        1,
	models.BodyActive:       2,
	models.BodyTransferring: 3,
	models.BodyTerminated:   4,
}

// nextTransferStatus is the only forward step from each in-flight status.
var nextTransferStatus = map[models.TransferStatus]models.TransferStatus{
	models.TransferInitiated:  models.TransferExtracting,
	models.TransferExtracting: models.TransferValidating,
	models.TransferValidating: models.TransferInjecting,
}

func transferTerminal(s models.TransferStatus) bool {
	return s == models.TransferCompleted || s == models.TransferFailed || s == models.TransferRolledBack
}

// Service provides the soul/body protocol over the coordinator instance, so
// all lifecycle operations serialize with the rest of the coordinator state.
type Service struct {
	inst   *actor.Instance
	cfg    config.Config
	logger *zap.Logger
	clock  func() time.Time
}

// NewService wraps the coordinator instance.
func NewService(inst *actor.Instance, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{inst: inst, cfg: cfg, logger: logger, clock: time.Now}
}

// --- Souls ---

// CreateSoul registers a new logical identity.
func (s *Service) CreateSoul(name, identity string, goals []string) (*models.Soul, error) {
	var soul *models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		soul, err = st.CreateSoul(name, identity, goals)
		return err
	})
	return soul, err
}

// GetSoul retrieves a soul, or nil when unknown.
func (s *Service) GetSoul(id string) (*models.Soul, error) {
	var soul *models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		soul, err = st.GetSoul(id)
		return err
	})
	return soul, err
}

// ListSouls returns all souls, newest first.
func (s *Service) ListSouls() ([]models.Soul, error) {
	var souls []models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		souls, err = st.ListSouls()
		return err
	})
	return souls, err
}

// CheckpointRequest carries one incremental knowledge/state update for a
// soul. Empty fields leave the stored value untouched; list fields append.
type CheckpointRequest struct {
	CurrentTask     string              `json:"current_task,omitempty"`
	PendingWork     []string            `json:"pending_work,omitempty"`
	Blockers        []string            `json:"blockers,omitempty"`
	Goals           []string            `json:"goals,omitempty"`
	Patterns        []string            `json:"patterns,omitempty"`
	AntiPatterns    []string            `json:"anti_patterns,omitempty"`
	Expertise       map[string]float64  `json:"expertise,omitempty"`
	Memories        []models.SoulMemory `json:"memories,omitempty"`
	TokensProcessed int64               `json:"tokens_processed,omitempty"`
	CompletionRate  float64             `json:"completion_rate,omitempty"`
}

// CheckpointSoul merges an incremental update into the soul's knowledge and
// state. Souls are mutated continuously via this call and never deleted.
func (s *Service) CheckpointSoul(id string, req CheckpointRequest) (*models.Soul, error) {
	var soul *models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		soul, err = st.GetSoul(id)
		if err != nil {
			return err
		}
		if soul == nil {
			return store.ErrNotFound
		}

		if req.CurrentTask != "" {
			soul.CurrentTask = req.CurrentTask
		}
		if req.PendingWork != nil {
			soul.PendingWork = req.PendingWork
		}
		if req.Blockers != nil {
			soul.Blockers = req.Blockers
		}
		if req.Goals != nil {
			soul.Goals = req.Goals
		}
		soul.Knowledge.Patterns = appendUnique(soul.Knowledge.Patterns, req.Patterns)
		soul.Knowledge.AntiPatterns = appendUnique(soul.Knowledge.AntiPatterns, req.AntiPatterns)
		if len(req.Expertise) > 0 {
			if soul.Knowledge.Expertise == nil {
				soul.Knowledge.Expertise = map[string]float64{}
			}
			for domain, score := range req.Expertise {
				if score > soul.Knowledge.Expertise[domain] {
					soul.Knowledge.Expertise[domain] = score
				}
			}
		}
		if len(req.Memories) > 0 {
			now := s.clock().UTC()
			for _, m := range req.Memories {
				if m.CreatedAt.IsZero() {
					m.CreatedAt = now
				}
				soul.Knowledge.Memories = append(soul.Knowledge.Memories, m)
			}
			soul.Knowledge.Memories = boundMemories(soul.Knowledge.Memories, soulMemoryCap)
		}
		soul.Metrics.TotalTokensProcessed += req.TokensProcessed
		if req.CompletionRate > 0 {
			soul.Metrics.CompletionRate = req.CompletionRate
		}
		return st.SaveSoul(soul)
	})
	return soul, err
}

// --- Bodies ---

// SpawnBody creates a fresh body in spawning state.
func (s *Service) SpawnBody() (*models.Body, error) {
	var body *models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		body, err = st.CreateBody()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.decorate(body), nil
}

// GetBody retrieves a body with derived token fields, or nil when unknown.
func (s *Service) GetBody(id string) (*models.Body, error) {
	var body *models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		body, err = st.GetBody(id)
		return err
	})
	if err != nil || body == nil {
		return nil, err
	}
	return s.decorate(body), nil
}

// ListBodies returns bodies with derived token fields.
func (s *Service) ListBodies(soulID string) ([]models.Body, error) {
	var bodies []models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		bodies, err = st.ListBodies(soulID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range bodies {
		s.decorate(&bodies[i])
	}
	return bodies, nil
}

// SetBodyStatus moves a body along its lifecycle. Statuses never move
// backward; setting the current status again is a no-op.
func (s *Service) SetBodyStatus(id string, status models.BodyStatus) (*models.Body, error) {
	rank, ok := bodyStatusRank[status]
	if !ok {
		return nil, fmt.Errorf("unknown body status %q", status)
	}
	var body *models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		body, err = st.GetBody(id)
		if err != nil {
			return err
		}
		if body == nil {
			return store.ErrNotFound
		}
		if rank < bodyStatusRank[body.Status] {
			return ErrBackwardStatus
		}
		body.Status = status
		return st.SaveBody(body)
	})
	if err != nil {
		return nil, err
	}
	return s.decorate(body), nil
}

// UpdateTokens records a body's token usage, folding the delta into the
// smoothed burn rate and advancing peak and heartbeat.
func (s *Service) UpdateTokens(id string, tokens int64) (*models.Body, error) {
	var body *models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		body, err = st.GetBody(id)
		if err != nil {
			return err
		}
		if body == nil {
			return store.ErrNotFound
		}

		now := s.clock().UTC()
		elapsed := now.Sub(body.LastHeartbeat)
		body.TokenBurnRate = nextBurnRate(body.TokenBurnRate, tokens-body.CurrentTokens, elapsed, s.cfg.BurnRateSmoothing)
		body.CurrentTokens = tokens
		if tokens > body.PeakTokens {
			body.PeakTokens = tokens
		}
		body.LastHeartbeat = now
		return st.SaveBody(body)
	})
	if err != nil {
		return nil, err
	}
	return s.decorate(body), nil
}

// RecordBodyError increments a body's error counter.
func (s *Service) RecordBodyError(id string) (*models.Body, error) {
	var body *models.Body
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		body, err = st.GetBody(id)
		if err != nil {
			return err
		}
		if body == nil {
			return store.ErrNotFound
		}
		body.ErrorCount++
		return st.SaveBody(body)
	})
	if err != nil {
		return nil, err
	}
	return s.decorate(body), nil
}

// Bind attaches an unbound soul to a body and activates it. A soul that
// already has a current body must migrate through a transfer instead.
func (s *Service) Bind(soulID, bodyID string) (*models.Soul, error) {
	var soul *models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		soul, err = st.GetSoul(soulID)
		if err != nil {
			return err
		}
		if soul == nil {
			return store.ErrNotFound
		}
		if soul.CurrentBodyID != "" {
			return ErrSoulBound
		}

		body, err := st.GetBody(bodyID)
		if err != nil {
			return err
		}
		if body == nil {
			return store.ErrNotFound
		}
		if body.Status == models.BodyTerminated || (body.SoulID != "" && body.SoulID != soulID) {
			return ErrBodyUnavailable
		}

		body.SoulID = soulID
		body.Status = models.BodyActive
		if err := st.SaveBody(body); err != nil {
			return err
		}
		soul.CurrentBodyID = bodyID
		return st.SaveSoul(soul)
	})
	return soul, err
}

// --- Transfers ---

// InitiateTransfer starts migrating a soul off its current body. A target
// body may be supplied; otherwise a fresh one is spawned. tokensSaved records
// the exhausted body's usage at initiation. Only one transfer per soul may be
// in flight; currentBodyId gates that.
func (s *Service) InitiateTransfer(soulID, reason, targetBodyID string) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		soul, err := st.GetSoul(soulID)
		if err != nil {
			return err
		}
		if soul == nil {
			return store.ErrNotFound
		}
		if soul.CurrentBodyID == "" {
			return ErrNoBoundBody
		}

		active, err := st.ActiveTransferForSoul(soulID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrTransferActive
		}

		fromBody, err := st.GetBody(soul.CurrentBodyID)
		if err != nil {
			return err
		}
		if fromBody == nil {
			return store.ErrNotFound
		}

		var toBody *models.Body
		if targetBodyID != "" {
			toBody, err = st.GetBody(targetBodyID)
			if err != nil {
				return err
			}
			if toBody == nil {
				return store.ErrNotFound
			}
			if toBody.Status == models.BodyTerminated || toBody.SoulID != "" {
				return ErrBodyUnavailable
			}
		} else {
			toBody, err = st.CreateBody()
			if err != nil {
				return err
			}
		}

		fromBody.Status = models.BodyTransferring
		if err := st.SaveBody(fromBody); err != nil {
			return err
		}

		transfer, err = st.CreateTransfer(soulID, fromBody.BodyID, toBody.BodyID, reason, fromBody.CurrentTokens)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer initiated",
		zap.String("soul", soulID),
		zap.String("from", transfer.FromBodyID),
		zap.String("to", transfer.ToBodyID),
		zap.Int64("tokens_saved", transfer.TokensSaved))
	return transfer, nil
}

// AdvanceTransfer moves a transfer one step forward through the inspectable
// intermediate states: initiated, extracting, validating, injecting. Each
// step is an explicit retry/observability point.
func (s *Service) AdvanceTransfer(id string) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		transfer, err = st.GetTransfer(id)
		if err != nil {
			return err
		}
		if transfer == nil {
			return store.ErrNotFound
		}
		next, ok := nextTransferStatus[transfer.Status]
		if !ok {
			if transferTerminal(transfer.Status) {
				return ErrTransferDone
			}
			return ErrBadTransition
		}
		transfer.Status = next
		return st.SaveTransfer(transfer)
	})
	return transfer, err
}

// CompleteTransfer finishes the migration: the old body is terminated and
// unbound, a BodyRecord is appended to the soul's history, the new body is
// activated, and the soul's currentBodyId is reassigned. This is the only
// operation that reassigns currentBodyId.
func (s *Service) CompleteTransfer(id string) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		transfer, err = st.GetTransfer(id)
		if err != nil {
			return err
		}
		if transfer == nil {
			return store.ErrNotFound
		}
		if transferTerminal(transfer.Status) {
			return ErrTransferDone
		}

		soul, err := st.GetSoul(transfer.SoulID)
		if err != nil {
			return err
		}
		if soul == nil {
			return store.ErrNotFound
		}

		now := s.clock().UTC()

		oldBody, err := st.GetBody(transfer.FromBodyID)
		if err != nil {
			return err
		}
		if oldBody != nil {
			soul.BodyHistory = append(soul.BodyHistory, models.BodyRecord{
				BodyID:         oldBody.BodyID,
				StartedAt:      oldBody.CreatedAt,
				EndedAt:        now,
				TokensUsed:     oldBody.CurrentTokens,
				PeakTokens:     oldBody.PeakTokens,
				TransferReason: transfer.Reason,
			})
			oldBody.Status = models.BodyTerminated
			oldBody.SoulID = ""
			if err := st.SaveBody(oldBody); err != nil {
				return err
			}
		}

		newBody, err := st.GetBody(transfer.ToBodyID)
		if err != nil {
			return err
		}
		if newBody == nil {
			return store.ErrNotFound
		}
		newBody.SoulID = soul.SoulID
		newBody.Status = models.BodyActive
		if err := st.SaveBody(newBody); err != nil {
			return err
		}

		soul.CurrentBodyID = newBody.BodyID
		soul.Metrics.TransferCount++
		soul.Metrics.TotalTokensProcessed += transfer.TokensSaved
		if err := st.SaveSoul(soul); err != nil {
			return err
		}

		transfer.Status = models.TransferCompleted
		transfer.CompletedAt = &now
		return st.SaveTransfer(transfer)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer completed",
		zap.String("transfer", transfer.TransferID),
		zap.String("soul", transfer.SoulID),
		zap.String("body", transfer.ToBodyID))
	return transfer, nil
}

// FailTransfer marks an in-flight transfer failed, or rolled back when
// rollback is set — the old body is then restored to active. Partial
// transfers are never auto-rolled-back; an operator drives this call.
func (s *Service) FailTransfer(id, errMsg string, rollback bool) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		transfer, err = st.GetTransfer(id)
		if err != nil {
			return err
		}
		if transfer == nil {
			return store.ErrNotFound
		}
		if transferTerminal(transfer.Status) {
			return ErrTransferDone
		}

		transfer.Status = models.TransferFailed
		transfer.Error = errMsg
		if rollback {
			transfer.Status = models.TransferRolledBack
			fromBody, err := st.GetBody(transfer.FromBodyID)
			if err != nil {
				return err
			}
			if fromBody != nil && fromBody.Status == models.BodyTransferring {
				fromBody.Status = models.BodyActive
				if err := st.SaveBody(fromBody); err != nil {
					return err
				}
			}
		}
		return st.SaveTransfer(transfer)
	})
	return transfer, err
}

// GetTransfer retrieves a transfer, or nil when unknown.
func (s *Service) GetTransfer(id string) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		transfer, err = st.GetTransfer(id)
		return err
	})
	return transfer, err
}

// ListTransfers returns transfers, optionally only non-terminal ones.
func (s *Service) ListTransfers(activeOnly bool) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		transfers, err = st.ListTransfers(activeOnly)
		return err
	})
	return transfers, err
}

// --- Aggregates ---

// Bundle assembles the trimmed injection payload for re-priming a fresh
// body: identity, current focus, the most recent patterns and the most
// important memories.
func (s *Service) Bundle(soulID string) (*models.SoulBundle, error) {
	var soul *models.Soul
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		soul, err = st.GetSoul(soulID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if soul == nil {
		return nil, store.ErrNotFound
	}

	return &models.SoulBundle{
		SoulID:       soul.SoulID,
		Name:         soul.Name,
		Identity:     soul.Identity,
		CurrentTask:  soul.CurrentTask,
		PendingWork:  soul.PendingWork,
		Blockers:     soul.Blockers,
		Goals:        soul.Goals,
		Patterns:     lastN(soul.Knowledge.Patterns, bundlePatternCap),
		AntiPatterns: lastN(soul.Knowledge.AntiPatterns, bundleAntiCap),
		Memories:     topMemories(soul.Knowledge.Memories, bundleMemoryCap),
		Metrics:      soul.Metrics,
	}, nil
}

// Dashboard assembles the operator view over the soul/body layer, including
// transfers stuck in non-terminal states.
func (s *Service) Dashboard() (*models.Dashboard, error) {
	dash := &models.Dashboard{
		Souls:           []models.SoulOverview{},
		ActiveTransfers: []models.Transfer{},
	}
	err := s.inst.Do(func(st *store.Store) error {
		souls, err := st.ListSouls()
		if err != nil {
			return err
		}
		for _, soul := range souls {
			overview := models.SoulOverview{Soul: soul}
			if soul.CurrentBodyID != "" {
				body, err := st.GetBody(soul.CurrentBodyID)
				if err != nil {
					return err
				}
				if body != nil {
					overview.Body = s.decorate(body)
				}
			}
			dash.Souls = append(dash.Souls, overview)
		}

		transfers, err := st.ListTransfers(true)
		if err != nil {
			return err
		}
		if transfers != nil {
			dash.ActiveTransfers = transfers
		}

		dash.BodyCount, dash.TerminatedCount, err = st.CountBodies()
		return err
	})
	if err != nil {
		return nil, err
	}
	return dash, nil
}

// decorate fills the derived token fields on a body row.
func (s *Service) decorate(body *models.Body) *models.Body {
	body.TokenStatus = tokenStatus(body.CurrentTokens, s.cfg.Tokens)
	body.EstimatedMinutesToLimit = minutesToLimit(body.CurrentTokens, body.TokenBurnRate, s.cfg.Tokens.Critical)
	return body
}

func appendUnique(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range add {
		if v != "" && !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}

func lastN(v []string, n int) []string {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

var importanceRank = map[string]int{
	"critical": 3,
	"high":     2,
	"medium":   1,
	"low":      0,
}

// boundMemories keeps at most limit memories, preferring importance then
// recency.
func boundMemories(memories []models.SoulMemory, limit int) []models.SoulMemory {
	if len(memories) <= limit {
		return memories
	}
	sorted := make([]models.SoulMemory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := importanceRank[sorted[i].Importance], importanceRank[sorted[j].Importance]
		if ri != rj {
			return ri > rj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[:limit]
}

// topMemories returns up to n high and critical memories, most important
// first.
func topMemories(memories []models.SoulMemory, n int) []models.SoulMemory {
	var picked []models.SoulMemory
	for _, m := range memories {
		if importanceRank[m.Importance] >= importanceRank["high"] {
			picked = append(picked, m)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		ri, rj := importanceRank[picked[i].Importance], importanceRank[picked[j].Importance]
		if ri != rj {
			return ri > rj
		}
		return picked[i].CreatedAt.After(picked[j].CreatedAt)
	})
	if len(picked) > n {
		picked = picked[:n]
	}
	return picked
}
