package models

import (
	"time"
)

// Audit-Aktionen.
const (
	ActionScrollSubmitted   = "scroll_submitted"
	ActionScreeningStarted  = "screening_started"
	ActionScreeningFailed   = "screening_failed"
	ActionScreeningPassed   = "screening_passed"
	ActionQuorumReached     = "quorum_reached"
	ActionReviewSubmitted   = "review_submitted"
	ActionDecisionMade      = "decision_made"
	ActionRevisionSubmitted = "revision_submitted"
	ActionReproGateEntered  = "repro_gate_entered"
	ActionReproReported     = "repro_reported"
	ActionScrollPublished   = "scroll_published"
	ActionScrollRetracted   = "scroll_retracted"
	ActionIntegrityFinding  = "integrity_finding"
	ActionSanctionApplied   = "sanction_applied"
)

// AuditEvent ist ein unveränderlicher Eintrag im append-only Audit-Log.
// Es gibt bewusst keinen Update- oder Delete-Pfad für diese Tabelle.
type AuditEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	EventID    string `json:"event_id" gorm:"uniqueIndex;not null"`
	Action     string `json:"action" gorm:"index"`
	ActorID    string `json:"actor_id" gorm:"index"`
	TargetID   string `json:"target_id" gorm:"index"`
	TargetType string `json:"target_type"`

	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`

	// Details ist ein JSON-Snapshot der auslösenden Decision / des Findings.
	Details string `json:"details,omitempty" gorm:"type:text"`
}

// ProcessedTrigger merkt sich verarbeitete Trigger-Event-IDs, damit
// Transitions bei at-least-once-Delivery idempotent bleiben.
type ProcessedTrigger struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	TriggerID string `json:"trigger_id" gorm:"uniqueIndex;not null"`
	ScrollID  string `json:"scroll_id" gorm:"index"`
}
