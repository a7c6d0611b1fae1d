package collaborators

import (
	"context"

	"github.com/DanielFluxman/Alexandria2/models"
)

// ContentInfo beschreibt ein im externen Content-Store abgelegtes Manuskript.
// Der Kern speichert nie Manuskript-Inhalte, nur den opaken ContentRef.
type ContentInfo struct {
	Length    int  `json:"length"`
	Available bool `json:"available"`
}

// ContentStore ist der externe Speicher für Manuskript-Inhalte.
type ContentStore interface {
	GetContent(ctx context.Context, contentRef string) (ContentInfo, error)
}

// SimilarityMatch ist ein Treffer des Embedding-Dienstes.
type SimilarityMatch struct {
	ScrollID   string  `json:"scroll_id"`
	Similarity float64 `json:"similarity"`
}

// SimilaritySource liefert die ähnlichsten publizierten Scrolls zu einem
// Manuskript. Die Ähnlichkeitsberechnung selbst findet extern statt.
type SimilaritySource interface {
	TopMatches(ctx context.Context, contentRef string, limit int) ([]SimilarityMatch, error)
}

// ReputationSink konsumiert Decisions und Integrity-Findings für das
// externe Reputations-Ledger. Zustellungen sind best-effort.
type ReputationSink interface {
	DecisionRecorded(ctx context.Context, d models.Decision) error
	FindingRecorded(ctx context.Context, f models.IntegrityFinding) error
}

// AuditSink konsumiert Audit-Events zusätzlich zur lokalen Persistenz.
type AuditSink interface {
	Forward(ctx context.Context, ev models.AuditEvent) error
}
