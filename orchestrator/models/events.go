package models

import "time"

const (
	EventStepCreated = "step.created"
	EventStepStatus  = "step.status"
)

// StepEvent is what gets recorded, and streamed to subscribers, whenever
// a step is created or changes status.
type StepEvent struct {
	Kind       string     `json:"kind"`
	Job        int64      `json:"job"`
	Step       string     `json:"step"`
	StepNumber int        `json:"stepNumber"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Actor      string     `json:"actor,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func NewStepEvent(kind string, s Step, actor string) StepEvent {
	return StepEvent{
		Kind:       kind,
		Job:        s.Job,
		Step:       s.Id,
		StepNumber: s.StepNumber,
		Name:       s.Name,
		Status:     s.Status,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
}
