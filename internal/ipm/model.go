package ipm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an IPM case.
type Status string

const (
	StatusActive     Status = "active"
	StatusMonitoring Status = "monitoring"
	StatusResolved   Status = "resolved"
)

// ErrUnknownStatus indicates a status outside the closed set.
var ErrUnknownStatus = errors.New("ipm: unknown case status")

// transitions lists the statuses reachable from each status. Staying put is always allowed.
var transitions = map[Status][]Status{
	StatusActive:     {StatusMonitoring, StatusResolved},
	StatusMonitoring: {StatusActive, StatusResolved},
	StatusResolved:   {StatusActive},
}

// ParseStatus validates raw input against the closed status set.
func ParseStatus(rawInput string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, rawInput)
	}
	return status, nil
}

// CanTransition reports whether a case may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Case tracks one pest or disease issue at a property. ResolvedAt is set only while resolved.
type Case struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PropertyID       int64      `gorm:"column:property_id;not null;index" json:"property_id"`
	IssueDescription string     `gorm:"column:issue_description;type:text;not null" json:"issue_description"`
	Status           Status     `gorm:"column:status;size:16;not null;index" json:"status"`
	CreatedBy        string     `gorm:"column:created_by;size:190" json:"created_by"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	ResolvedAt       *time.Time `gorm:"column:resolved_at" json:"resolved_at"`
}

// TableName provides the explicit table binding for GORM.
func (Case) TableName() string {
	return "ipm_cases"
}

// Observation is a dated field note on a case.
type Observation struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CaseID    int64     `gorm:"column:case_id;not null;index" json:"case_id"`
	Notes     string    `gorm:"column:notes;type:text;not null" json:"notes"`
	CreatedBy string    `gorm:"column:created_by;size:190" json:"created_by"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Observation) TableName() string {
	return "ipm_observations"
}

// CaseInput carries the fields for a new case.
type CaseInput struct {
	PropertyID       int64  `json:"property_id"`
	IssueDescription string `json:"issue_description"`
}

// CaseUpdate carries a status transition and/or a new description. Nil fields are kept.
type CaseUpdate struct {
	Status           *string `json:"status"`
	IssueDescription *string `json:"issue_description"`
}

// Summary is a listing row with the property and the observation count.
type Summary struct {
	Case
	CustomerName     string `gorm:"column:customer_name" json:"customer_name"`
	Address          string `gorm:"column:address" json:"address"`
	ObservationCount int64  `gorm:"column:observation_count" json:"observation_count"`
}

// Detail is a case with its observations in the order they were written.
type Detail struct {
	Case
	CustomerName string        `json:"customer_name"`
	Address      string        `json:"address"`
	Observations []Observation `json:"observations"`
}

// Filter narrows case listings.
type Filter struct {
	PropertyID int64
	Status     string
}
