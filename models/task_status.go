package models

import "time"

// TaskState — состояние фоновой задачи аккаунта.
type TaskState string

const (
	TaskRunning TaskState = "running"
	TaskStopped TaskState = "stopped"
	TaskFailed  TaskState = "failed"
)

// TaskStatus — снимок состояния фоновой задачи для оператора.
type TaskStatus struct {
	Phone     string     `json:"phone"`
	RunID     string     `json:"run_id"`
	State     TaskState  `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
	Cycles    int        `json:"cycles"`
	LastError string     `json:"last_error,omitempty"`
}
