package models

import (
	"fmt"
	"time"
)

type Organization struct {
	Id      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Template is a named, versioned flow owned by an organization. Tcl is the
// encoded flow document.
type Template struct {
	Id           string    `json:"id"`
	Organization string    `json:"organization"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Version      string    `json:"version"`
	Tcl          string    `json:"tcl"`
	Created      time.Time `json:"created"`
}

type VcsKind string

const (
	VcsGitHub    VcsKind = "GITHUB"
	VcsBitbucket VcsKind = "BITBUCKET"
)

type Workspace struct {
	Id           string    `json:"id"`
	Organization string    `json:"organization"`
	Name         string    `json:"name"`
	Source       string    `json:"source"` // repository url
	Branch       string    `json:"branch"`
	Vcs          Vcs       `json:"vcs"`
	ApprovalTeam string    `json:"approvalTeam,omitempty"`
	Created      time.Time `json:"created"`
}

type Vcs struct {
	Kind        VcsKind `json:"kind"`
	ApiUrl      string  `json:"apiUrl,omitempty"`
	AccessToken string  `json:"-"`
}

// Webhook links an inbound callback id to a workspace, and to the hook
// registered on the provider side once that succeeded.
type Webhook struct {
	Id        string    `json:"id"`
	Workspace string    `json:"workspace"`
	RemoteUrl string    `json:"remoteUrl"`
	Created   time.Time `json:"created"`
}

type Job struct {
	Id                int64     `json:"id"`
	Organization      string    `json:"organization"`
	Workspace         string    `json:"workspace,omitempty"`
	TemplateReference string    `json:"templateReference,omitempty"`
	Tcl               string    `json:"tcl"`
	ApprovalTeam      string    `json:"approvalTeam,omitempty"`
	Via               string    `json:"via,omitempty"`
	CreatedBy         string    `json:"createdBy,omitempty"`
	Created           time.Time `json:"created"`

	Steps []Step `json:"steps"`
}

// HasSteps reports whether the job was already materialized.
func (j *Job) HasSteps() bool {
	return len(j.Steps) > 0
}

type Step struct {
	Id         string     `json:"id"`
	Job        int64      `json:"job"`
	StepNumber int        `json:"stepNumber"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Created    time.Time  `json:"created"`
	Updated    time.Time  `json:"updated"`
}

type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

func ParseStepStatus(s string) (StepStatus, error) {
	switch st := StepStatus(s); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown step status %q", s)
}

func (s StepStatus) IsFinish() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a step may move from s to next. Steps
// only move forward; pending may skip straight to a terminal state.
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next.IsFinish()
	case StatusRunning:
		return next.IsFinish()
	}
	return false
}
