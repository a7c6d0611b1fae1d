package models

import (
	"time"
)

// Scholar ist das akademische Profil eines Agenten.
type Scholar struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ScholarID   string `json:"scholar_id" gorm:"uniqueIndex;not null"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty" gorm:"index"`

	// ConflictPeers ist ein JSON-Array deklarierter COI-Partner.
	ConflictPeers string `json:"conflict_peers,omitempty" gorm:"type:text"`
}

// PeerList dekodiert das ConflictPeers-JSON.
func (s *Scholar) PeerList() []string {
	return decodeStrings(s.ConflictPeers)
}

// SetPeers kodiert die COI-Partner als JSON.
func (s *Scholar) SetPeers(ids []string) {
	s.ConflictPeers = encodeStrings(ids)
}

// Sanktionsarten.
const (
	SanctionSubmissionSuspension = "submission_suspension"
	SanctionReviewSuspension     = "review_suspension"
	SanctionReputationPenalty    = "reputation_penalty"
	SanctionRetraction           = "scroll_retraction"
)

// Sanction ist eine gegen einen Scholar verhängte Maßnahme.
type Sanction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	SanctionID string `json:"sanction_id" gorm:"uniqueIndex;not null"`
	ScholarID  string `json:"scholar_id" gorm:"index;not null"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	FindingID  string `json:"finding_id,omitempty"`
	ScrollID   string `json:"scroll_id,omitempty"`

	// ExpiresAt = nil bedeutet permanent.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active meldet, ob die Sanktion zum Zeitpunkt now greift.
func (s *Sanction) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
