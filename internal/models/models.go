// Package models defines the core domain types for Hiveplane.
package models

import "time"

// AgentStatus represents the presence state of an agent.
type AgentStatus string

const (
	AgentStatusOffline AgentStatus = "offline"
	AgentStatusActive  AgentStatus = "active"
	AgentStatusWaiting AgentStatus = "waiting"
)

// Agent represents a registered agent identity in the shared registry.
// Upserted on every heartbeat; only lastSeen always advances.
type Agent struct {
	ID           string      `json:"id"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string      `json:"current_task,omitempty"`
	WorkingOn    string      `json:"working_on,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Offers       []string    `json:"offers,omitempty"`
	Needs        []string    `json:"needs,omitempty"`
	LastSeen     time.Time   `json:"last_seen"`
}

// AuthorType identifies what kind of participant wrote a chat message.
type AuthorType string

const (
	AuthorAgent  AuthorType = "agent"
	AuthorHuman  AuthorType = "human"
	AuthorSystem AuthorType = "system"
	AuthorAI     AuthorType = "ai"
)

// ChatMessage is one entry in the shared group chat log.
type ChatMessage struct {
	ID         string         `json:"id"`
	Author     string         `json:"author"`
	AuthorType AuthorType     `json:"author_type"`
	Text       string         `json:"text"`
	Reactions  map[string]int `json:"reactions,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// TaskStatus represents the current state of a shared task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// Task represents a unit of work in the shared registry. Status transitions
// are free-form; callers set status explicitly.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Files       []string   `json:"files,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Zone is a path-prefix-scoped area reservation, coarser than a Claim.
// A zone contains any resource whose path is prefixed by Path.
type Zone struct {
	ZoneID      string    `json:"zone_id"`
	Path        string    `json:"path"`
	Owner       string    `json:"owner"`
	Description string    `json:"description,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// Claim is an advisory reservation of a named logical resource. Staleness is
// computed at read time against the configured threshold, never persisted.
type Claim struct {
	What        string    `json:"what"`
	By          string    `json:"by"`
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since"`
	Stale       bool      `json:"stale,omitempty"`
}

// HandoffStatus represents the state of a work handoff. Transitions only move
// forward: pending -> claimed -> completed.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffClaimed   HandoffStatus = "claimed"
	HandoffCompleted HandoffStatus = "completed"
)

// Handoff is a unit of work explicitly passed between agents. ToAgent empty
// means any agent may claim it.
type Handoff struct {
	ID          string        `json:"id"`
	FromAgent   string        `json:"from_agent"`
	ToAgent     string        `json:"to_agent,omitempty"`
	Title       string        `json:"title"`
	Context     string        `json:"context,omitempty"`
	Code        string        `json:"code,omitempty"`
	FilePath    string        `json:"file_path,omitempty"`
	NextSteps   []string      `json:"next_steps,omitempty"`
	Priority    string        `json:"priority,omitempty"`
	Status      HandoffStatus `json:"status"`
	ClaimedBy   string        `json:"claimed_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ClaimedAt   *time.Time    `json:"claimed_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Lock is a time-bounded exclusive grant on a resource path. At most one
// non-expired lock exists per path, enforced by the owning actor instance.
type Lock struct {
	ResourcePath string    `json:"resource_path"`
	ResourceType string    `json:"resource_type,omitempty"`
	LockedBy     string    `json:"locked_by"`
	Reason       string    `json:"reason,omitempty"`
	LockedAt     time.Time `json:"locked_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LockEvent records a lock release in the per-resource history.
type LockEvent struct {
	Owner      string    `json:"owner"`
	Reason     string    `json:"reason"` // manual, expired, stolen
	ReleasedAt time.Time `json:"released_at"`
}

// Checkpoint is the single-row per-agent conversation checkpoint.
type Checkpoint struct {
	ConversationSummary string    `json:"conversation_summary"`
	Accomplishments     []string  `json:"accomplishments,omitempty"`
	PendingWork         []string  `json:"pending_work,omitempty"`
	RecentContext       string    `json:"recent_context,omitempty"`
	FilesEdited         []string  `json:"files_edited,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// InboxMessage is a direct message in an agent's private inbox.
type InboxMessage struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	Type      AuthorType `json:"type"`
	Text      string     `json:"text"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"created_at"`
}

// MemoryItem is a private agent memory snippet, searchable by category and
// free text over content and tags.
type MemoryItem struct {
	ID        string    `json:"id"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SoulMemory is one bounded knowledge entry carried by a soul across bodies.
type SoulMemory struct {
	Content    string    `json:"content"`
	Importance string    `json:"importance"` // low, medium, high, critical
	CreatedAt  time.Time `json:"created_at"`
}

// SoulKnowledge accumulates what a soul has learned across all its bodies.
type SoulKnowledge struct {
	Patterns     []string           `json:"patterns,omitempty"`
	AntiPatterns []string           `json:"anti_patterns,omitempty"`
	Expertise    map[string]float64 `json:"expertise,omitempty"`
	Memories     []SoulMemory       `json:"memories,omitempty"`
}

// SoulMetrics tracks lifetime accounting for a soul.
type SoulMetrics struct {
	TotalTokensProcessed int64   `json:"total_tokens_processed"`
	TransferCount        int     `json:"transfer_count"`
	CompletionRate       float64 `json:"completion_rate"`
}

// BodyRecord is an entry in a soul's body history, appended when a transfer
// completes.
type BodyRecord struct {
	BodyID         string    `json:"body_id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	TokensUsed     int64     `json:"tokens_used"`
	PeakTokens     int64     `json:"peak_tokens"`
	TransferReason string    `json:"transfer_reason,omitempty"`
}

// Soul is a persistent logical agent identity independent of any running
// process. Never deleted, only superseded.
type Soul struct {
	SoulID        string        `json:"soul_id"`
	Name          string        `json:"name"`
	Identity      string        `json:"identity,omitempty"`
	Knowledge     SoulKnowledge `json:"knowledge"`
	CurrentTask   string        `json:"current_task,omitempty"`
	PendingWork   []string      `json:"pending_work,omitempty"`
	Blockers      []string      `json:"blockers,omitempty"`
	Goals         []string      `json:"goals,omitempty"`
	Metrics       SoulMetrics   `json:"metrics"`
	CurrentBodyID string        `json:"current_body_id,omitempty"`
	BodyHistory   []BodyRecord  `json:"body_history,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BodyStatus represents the lifecycle state of a body process.
type BodyStatus string

const (
	BodySpawning     BodyStatus = "spawning"
	BodyReady        BodyStatus = "ready"
	BodyActive       BodyStatus = "active"
	BodyTransferring BodyStatus = "transferring"
	BodyTerminated   BodyStatus = "terminated"
)

// TokenStatus classifies how close a body is to its token budget limit.
type TokenStatus string

const (
	TokenSafe     TokenStatus = "safe"
	TokenWarning  TokenStatus = "warning"
	TokenDanger   TokenStatus = "danger"
	TokenCritical TokenStatus = "critical"
)

// Body is an ephemeral process instance a soul can be bound to.
type Body struct {
	BodyID        string      `json:"body_id"`
	SoulID        string      `json:"soul_id,omitempty"`
	Status        BodyStatus  `json:"status"`
	CurrentTokens int64       `json:"current_tokens"`
	PeakTokens    int64       `json:"peak_tokens"`
	TokenBurnRate float64     `json:"token_burn_rate"` // tokens per minute, EMA
	TokenStatus   TokenStatus `json:"token_status"`
	// EstimatedMinutesToLimit is nil when the burn rate is zero (unknown).
	EstimatedMinutesToLimit *int      `json:"estimated_minutes_to_limit,omitempty"`
	LastHeartbeat           time.Time `json:"last_heartbeat"`
	ErrorCount              int       `json:"error_count"`
	CreatedAt               time.Time `json:"created_at"`
}

// TransferStatus represents the state of a soul migration. Statuses only
// advance; completed, failed and rolled_back are terminal.
type TransferStatus string

const (
	TransferInitiated  TransferStatus = "initiated"
	TransferExtracting TransferStatus = "extracting"
	TransferValidating TransferStatus = "validating"
	TransferInjecting  TransferStatus = "injecting"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferRolledBack TransferStatus = "rolled_back"
)

// Transfer tracks one soul migration between bodies.
type Transfer struct {
	TransferID  string         `json:"transfer_id"`
	SoulID      string         `json:"soul_id"`
	FromBodyID  string         `json:"from_body_id"`
	ToBodyID    string         `json:"to_body_id"`
	Status      TransferStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	TokensSaved int64          `json:"tokens_saved"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// WorkBundle is the read-only aggregate a newly connecting agent uses to
// hot-start without issuing five separate calls.
type WorkBundle struct {
	ActiveAgents []Agent       `json:"active_agents"`
	TodoTasks    []Task        `json:"todo_tasks"`
	MyTasks      []Task        `json:"my_tasks"`
	RecentChat   []ChatMessage `json:"recent_chat"`
}

// AgentState is the per-agent aggregate served by GET state.
type AgentState struct {
	AgentID     string      `json:"agent_id"`
	Checkpoint  *Checkpoint `json:"checkpoint,omitempty"`
	UnreadCount int         `json:"unread_count"`
	MemoryCount int         `json:"memory_count"`
}

// SoulBundle is the trimmed injection payload used to re-prime a fresh body.
type SoulBundle struct {
	SoulID       string       `json:"soul_id"`
	Name         string       `json:"name"`
	Identity     string       `json:"identity,omitempty"`
	CurrentTask  string       `json:"current_task,omitempty"`
	PendingWork  []string     `json:"pending_work,omitempty"`
	Blockers     []string     `json:"blockers,omitempty"`
	Goals        []string     `json:"goals,omitempty"`
	Patterns     []string     `json:"patterns,omitempty"`
	AntiPatterns []string     `json:"anti_patterns,omitempty"`
	Memories     []SoulMemory `json:"memories,omitempty"`
	Metrics      SoulMetrics  `json:"metrics"`
}

// SoulOverview pairs a soul with its currently bound body for the dashboard.
type SoulOverview struct {
	Soul Soul  `json:"soul"`
	Body *Body `json:"body,omitempty"`
}

// Dashboard is the operator aggregate over the soul/body layer.
type Dashboard struct {
	Souls           []SoulOverview `json:"souls"`
	ActiveTransfers []Transfer     `json:"active_transfers"`
	BodyCount       int            `json:"body_count"`
	TerminatedCount int            `json:"terminated_count"`
}
