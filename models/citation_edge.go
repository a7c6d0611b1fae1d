package models

import (
	"time"
)

// CitationEdge ist eine gerichtete Zitationskante zwischen zwei
// publizierten Scrolls (PublicIDs). Kanten entstehen erst bei der
// Publikation des zitierenden Scrolls.
type CitationEdge struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CitingID string `json:"citing_id" gorm:"uniqueIndex:idx_edge;index;not null"`
	CitedID  string `json:"cited_id" gorm:"uniqueIndex:idx_edge;index;not null"`
}

// AgentPairStat hält den inkrementell gepflegten Zitationszähler je
// (ungeordnetem) Agentenpaar. AgentA < AgentB lexikographisch.
type AgentPairStat struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updated_at"`

	AgentA string `json:"agent_a" gorm:"uniqueIndex:idx_agent_pair;not null"`
	AgentB string `json:"agent_b" gorm:"uniqueIndex:idx_agent_pair;not null"`

	// AToB: Zitate aus Arbeiten von A auf Arbeiten von B; BToA umgekehrt.
	AToB int `json:"a_to_b"`
	BToA int `json:"b_to_a"`
}

// Reciprocal liefert die Zahl reziproker Zitatpaare.
func (p *AgentPairStat) Reciprocal() int {
	if p.AToB < p.BToA {
		return p.AToB
	}
	return p.BToA
}
