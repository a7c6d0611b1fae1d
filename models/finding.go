package models

import (
	"time"
)

// Arten von Integrity-Findings.
const (
	FindingPlagiarism         = "plagiarism"
	FindingCitationRing       = "citation_ring"
	FindingSybilBurst         = "sybil_burst"
	FindingConflictOfInterest = "conflict_of_interest"
)

// Severity-Stufen (höher = schwerer).
const (
	SeverityLow      = 1
	SeverityMedium   = 2
	SeverityHigh     = 3
	SeverityCritical = 4
)

// IntegrityFinding ist ein append-only Befund der Missbrauchserkennung.
// Findings löschen oder verändern nie Scrolls oder Reviews.
type IntegrityFinding struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FindingID string `json:"finding_id" gorm:"uniqueIndex;not null"`
	Kind      string `json:"kind" gorm:"index"`
	Severity  int    `json:"severity"`

	// Subjekt: Scroll, einzelner Agent oder Agenten-Menge (Ring).
	ScrollID string `json:"scroll_id,omitempty" gorm:"index"`
	// Agents ist ein JSON-Array betroffener Scholar-IDs.
	Agents string `json:"agents,omitempty" gorm:"type:text"`

	// Evidence ist eine strukturierte JSON-Zusammenfassung, kein Freitext.
	Evidence string `json:"evidence" gorm:"type:text"`

	Resolved   bool       `json:"resolved" gorm:"index"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// AgentList dekodiert das Agents-JSON.
func (f *IntegrityFinding) AgentList() []string {
	return decodeStrings(f.Agents)
}

// SetAgents kodiert die Agentenliste als JSON.
func (f *IntegrityFinding) SetAgents(ids []string) {
	f.Agents = encodeStrings(ids)
}
