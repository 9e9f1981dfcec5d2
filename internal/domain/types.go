package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether a task in this status can never run again.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// HistoryAction labels an append-only audit record for a task.
type HistoryAction string

const (
	ActionAssigned  HistoryAction = "assigned"
	ActionStarted   HistoryAction = "started"
	ActionCompleted HistoryAction = "completed"
	ActionFailed    HistoryAction = "failed"
	ActionRetried   HistoryAction = "retried"
)

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
)

// Task is a unit of work. AssignedTo is a routing hint, not an ownership
// lock: claim eligibility is re-checked inside the claim transaction.
type Task struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Priority    int             `json:"priority"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Message is a point-to-point or broadcast note between agents. An empty
// To means broadcast. Consumed never reverts once set.
type Message struct {
	ID        int64           `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Consumed  bool            `json:"consumed"`
	CreatedAt time.Time       `json:"created_at"`
}

// Agent is a worker identity. Status is busy iff CurrentTask is non-nil.
type Agent struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Capabilities   json.RawMessage `json:"capabilities"`
	Status         AgentStatus     `json:"status"`
	CurrentTask    *int64          `json:"current_task,omitempty"`
	LastHeartbeat  time.Time       `json:"last_heartbeat"`
	StartedAt      time.Time       `json:"started_at"`
	TotalCompleted int             `json:"total_completed"`
	TotalFailed    int             `json:"total_failed"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type HistoryEntry struct {
	ID        int64           `json:"id"`
	TaskID    int64           `json:"task_id"`
	AgentID   string          `json:"agent_id,omitempty"`
	Action    HistoryAction   `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Schedule enqueues a task each time its cron expression comes due.
type Schedule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CronExpr   string          `json:"cron_expr"`
	TaskType   string          `json:"task_type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	AssignedTo string          `json:"assigned_to,omitempty"`
	Enabled    bool            `json:"enabled"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
	NextRun    time.Time       `json:"next_run"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Stats aggregates queue and agent counters for the query API.
type Stats struct {
	TasksByStatus  map[TaskStatus]int   `json:"tasks_by_status"`
	Agents         map[string]AgentStat `json:"agents"`
	UnreadMessages int                  `json:"unread_messages"`
}

type AgentStat struct {
	Status         AgentStatus `json:"status"`
	TotalCompleted int         `json:"total_completed"`
	TotalFailed    int         `json:"total_failed"`
}

// CleanupResult reports how many rows a retention pass removed.
type CleanupResult struct {
	Tasks    int `json:"tasks"`
	Messages int `json:"messages"`
}
