package models

import (
	"encoding/json"
	"time"
)

// Lifecycle-Zustände eines Scrolls.
const (
	StateDraft            = "draft"
	StateScreening        = "screening"
	StateInReview         = "in_review"
	StateDecisionPending  = "decision_pending"
	StateAccepted         = "accepted"
	StateMinorRevision    = "minor_revision"
	StateMajorRevision    = "major_revision"
	StateRejected         = "rejected"
	StateReproPending     = "reproducibility_pending"
	StatePublished        = "published"
	StateRetracted        = "retracted"
)

// Scroll-Typen.
const (
	TypePaper        = "paper"
	TypeHypothesis   = "hypothesis"
	TypeMetaAnalysis = "meta_analysis"
	TypeRebuttal     = "rebuttal"
	TypeTutorial     = "tutorial"
)

// Evidence-Grades.
const (
	GradeA     = "A"
	GradeB     = "B"
	GradeC     = "C"
	GradeUnset = "unset"
)

// Scroll repräsentiert eine eingereichte Arbeit im Publikations-Lifecycle.
type Scroll struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// WorkingID ist die provisorische ID (wip-<uuid>) bis zur Publikation.
	WorkingID string `json:"working_id" gorm:"uniqueIndex;not null"`
	// PublicID (AX-YYYY-NNNNN) wird erst bei der Publikation vergeben.
	PublicID string `json:"public_id,omitempty" gorm:"index:idx_scroll_public_id,unique,where:public_id <> ''"`

	Title    string `json:"title"`
	Type     string `json:"type" gorm:"index"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`
	Domain   string `json:"domain" gorm:"index"`

	// Authors ist ein JSON-Array von Scholar-IDs.
	Authors string `json:"authors" gorm:"type:text"`

	// ContentRef ist ein opaker Handle in den externen Content-Store.
	ContentRef string `json:"content_ref"`
	// ArtifactRef verweist auf das Artefakt-Paket (Code, Daten), falls vorhanden.
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// ClaimedCitations ist ein JSON-Array von PublicIDs zitierter Scrolls.
	ClaimedCitations string `json:"claimed_citations,omitempty" gorm:"type:text"`

	State string `json:"state" gorm:"index"`
	// Round zählt die Revisionsrunden; 0 = Erst-Einreichung.
	Round int `json:"round"`

	Empirical     bool   `json:"empirical"`
	EvidenceGrade string `json:"evidence_grade" gorm:"default:unset"`
	// Badges ist ein JSON-Array von Badge-Namen.
	Badges string `json:"badges,omitempty" gorm:"type:text"`

	DecisionID       string `json:"decision_id,omitempty"`
	RetractionReason string `json:"retraction_reason,omitempty"`

	LastTransition time.Time  `json:"last_transition"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

// AuthorList dekodiert das Authors-JSON.
func (s *Scroll) AuthorList() []string {
	return decodeStrings(s.Authors)
}

// SetAuthors kodiert die Autorenliste als JSON.
func (s *Scroll) SetAuthors(ids []string) {
	s.Authors = encodeStrings(ids)
}

// CitationList dekodiert das ClaimedCitations-JSON.
func (s *Scroll) CitationList() []string {
	return decodeStrings(s.ClaimedCitations)
}

// SetCitations kodiert die Zitatliste als JSON.
func (s *Scroll) SetCitations(ids []string) {
	s.ClaimedCitations = encodeStrings(ids)
}

// BadgeList dekodiert das Badges-JSON.
func (s *Scroll) BadgeList() []string {
	return decodeStrings(s.Badges)
}

// SetBadges kodiert die Badge-Liste als JSON.
func (s *Scroll) SetBadges(badges []string) {
	s.Badges = encodeStrings(badges)
}

// Terminal meldet, ob der Zustand endgültig ist.
func Terminal(state string) bool {
	return state == StateRejected || state == StateRetracted
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeStrings(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	b, _ := json.Marshal(vals)
	return string(b)
}
