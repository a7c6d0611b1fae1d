package models

import (
	"time"
)

// Decision-Outcomes.
const (
	OutcomeAccept        = "accept"
	OutcomeMinorRevision = "minor_revision"
	OutcomeMajorRevision = "major_revision"
	OutcomeReject        = "reject"
)

// Decision ist das unveränderliche Ergebnis einer Policy-Auswertung.
// Eine neue Runde erzeugt immer einen neuen Datensatz, nie ein Update.
type Decision struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	DecisionID string `json:"decision_id" gorm:"uniqueIndex;not null"`
	ScrollID   string `json:"scroll_id" gorm:"index;not null"`
	Round      int    `json:"round"`

	Outcome           string  `json:"outcome"`
	MeanScore         float64 `json:"mean_score"`
	ReviewCount       int     `json:"review_count"`
	IntegrityAdjusted bool    `json:"integrity_adjusted"`

	// Rationale ist ein JSON-Array von Reason-Codes.
	Rationale string `json:"rationale" gorm:"type:text"`
	// RuleTrace ist das JSON-Protokoll aller Regel-Auswertungen.
	RuleTrace string `json:"rule_trace,omitempty" gorm:"type:text"`
}

// RationaleCodes dekodiert das Rationale-JSON.
func (d *Decision) RationaleCodes() []string {
	return decodeStrings(d.Rationale)
}

// SetRationale kodiert die Reason-Codes als JSON.
func (d *Decision) SetRationale(codes []string) {
	d.Rationale = encodeStrings(codes)
}
