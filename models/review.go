package models

import (
	"time"
)

// Review-Empfehlungen (identisch mit den Decision-Outcomes).
const (
	RecommendAccept        = "accept"
	RecommendMinorRevision = "minor_revision"
	RecommendMajorRevision = "major_revision"
	RecommendReject        = "reject"
)

// Score-Grenzen für alle Kriterien.
const (
	ScoreMin = 1.0
	ScoreMax = 10.0
)

// Review ist ein Peer-Review-Gutachten für einen Scroll.
type Review struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReviewID   string `json:"review_id" gorm:"uniqueIndex;not null"`
	ScrollID   string `json:"scroll_id" gorm:"index;not null"`
	ReviewerID string `json:"reviewer_id" gorm:"index;not null"`
	Round      int    `json:"round" gorm:"index"`

	Originality  float64 `json:"originality"`
	Methodology  float64 `json:"methodology"`
	Significance float64 `json:"significance"`
	Clarity      float64 `json:"clarity"`
	Overall      float64 `json:"overall"`

	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`

	// Comments werden vom Kern nicht interpretiert.
	Comments string `json:"comments,omitempty" gorm:"type:text"`

	// Superseded markiert Gutachten, die durch ein neues ersetzt wurden.
	Superseded bool `json:"superseded"`
}
