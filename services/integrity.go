package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// IntegrityDetector erzeugt append-only Findings für Plagiate,
// Zitations-Ringe, Sybil-Bursts und gemeldete Interessenkonflikte.
// Findings verändern nie Scrolls oder Reviews; sie wirken nur über
// die Policy-Auswertung und explizite Sanktionen.
type IntegrityDetector struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *zap.Logger
	Audit      *AuditLog
	Reputation collaborators.ReputationSink
}

// NewIntegrityDetector erstellt den Detektor. reputation darf nil sein.
func NewIntegrityDetector(cfg *config.Config, db *gorm.DB, logger *zap.Logger, audit *AuditLog, reputation collaborators.ReputationSink) *IntegrityDetector {
	return &IntegrityDetector{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		Audit:      audit,
		Reputation: reputation,
	}
}

// CheckPlagiarism erzeugt für jeden Treffer oberhalb des
// Plagiats-Thresholds ein kritisches Finding gegen den Scroll.
func (d *IntegrityDetector) CheckPlagiarism(scroll *models.Scroll, matches []collaborators.SimilarityMatch) ([]models.IntegrityFinding, error) {
	var findings []models.IntegrityFinding
	for _, m := range matches {
		if m.Similarity < d.Config.Policy.PlagiarismThreshold {
			continue
		}
		if m.ScrollID == scroll.PublicID || m.ScrollID == scroll.WorkingID {
			continue
		}
		f := models.IntegrityFinding{
			FindingID: uuid.NewString(),
			Kind:      models.FindingPlagiarism,
			Severity:  models.SeverityCritical,
			ScrollID:  scroll.WorkingID,
		}
		f.SetAgents(scroll.AuthorList())
		f.Evidence = mustEvidence(map[string]interface{}{
			"matched_scroll_id": m.ScrollID,
			"similarity":        m.Similarity,
			"threshold":         d.Config.Policy.PlagiarismThreshold,
		})
		if err := d.record(&f); err != nil {
			return findings, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// ObservePairDeltas wertet die beim Kanten-Einfügen aktualisierten
// Paar-Zähler aus. Erreicht ein Paar den Ring-Threshold reziproker
// Zitate, entsteht genau ein offenes Finding pro Paar.
func (d *IntegrityDetector) ObservePairDeltas(deltas []PairDelta) ([]models.IntegrityFinding, error) {
	var findings []models.IntegrityFinding
	for _, delta := range deltas {
		if delta.Reciprocal < d.Config.Policy.CitationRingThreshold {
			continue
		}
		agents := []string{delta.AgentA, delta.AgentB}
		open, err := d.hasOpenFinding(models.FindingCitationRing, agents)
		if err != nil {
			return findings, err
		}
		if open {
			continue
		}
		f := models.IntegrityFinding{
			FindingID: uuid.NewString(),
			Kind:      models.FindingCitationRing,
			Severity:  models.SeverityHigh,
		}
		f.SetAgents(agents)
		f.Evidence = mustEvidence(map[string]interface{}{
			"reciprocal": delta.Reciprocal,
			"a_to_b":     delta.AToB,
			"b_to_a":     delta.BToA,
			"threshold":  d.Config.Policy.CitationRingThreshold,
		})
		if err := d.record(&f); err != nil {
			return findings, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// CheckSybil prüft das Einreichungsvolumen eines Autors und seines
// Affiliations-Clusters im Rollfenster. Überschreitungen erzeugen ein
// Finding gegen den Autor bzw. das Cluster.
func (d *IntegrityDetector) CheckSybil(authorID string, now time.Time) (*models.IntegrityFinding, error) {
	windowStart := now.Add(-time.Duration(d.Config.Policy.SybilWindowHours) * time.Hour)

	count, err := d.submissionsSince(authorID, windowStart)
	if err != nil {
		return nil, err
	}
	if count > int64(d.Config.Policy.SybilMaxSubmissions) {
		return d.sybilFinding([]string{authorID}, map[string]interface{}{
			"submissions":  count,
			"window_hours": d.Config.Policy.SybilWindowHours,
			"max":          d.Config.Policy.SybilMaxSubmissions,
		})
	}

	cluster, clusterCount, err := d.clusterSubmissions(authorID, windowStart)
	if err != nil {
		return nil, err
	}
	if len(cluster) > 1 && clusterCount > int64(d.Config.Policy.SybilMaxSubmissions) {
		return d.sybilFinding(cluster, map[string]interface{}{
			"submissions":  clusterCount,
			"window_hours": d.Config.Policy.SybilWindowHours,
			"max":          d.Config.Policy.SybilMaxSubmissions,
			"cluster":      true,
		})
	}
	return nil, nil
}

func (d *IntegrityDetector) sybilFinding(agents []string, evidence map[string]interface{}) (*models.IntegrityFinding, error) {
	sort.Strings(agents)
	open, err := d.hasOpenFinding(models.FindingSybilBurst, agents)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}
	f := models.IntegrityFinding{
		FindingID: uuid.NewString(),
		Kind:      models.FindingSybilBurst,
		Severity:  models.SeverityMedium,
	}
	f.SetAgents(agents)
	f.Evidence = mustEvidence(evidence)
	if err := d.record(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (d *IntegrityDetector) submissionsSince(authorID string, since time.Time) (int64, error) {
	var count int64
	err := d.DB.Model(&models.Scroll{}).
		Where("created_at >= ? AND authors LIKE ?", since, "%\""+authorID+"\"%").
		Count(&count).Error
	return count, err
}

func (d *IntegrityDetector) clusterSubmissions(authorID string, since time.Time) ([]string, int64, error) {
	var author models.Scholar
	err := d.DB.Where("scholar_id = ?", authorID).First(&author).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || author.Affiliation == "" {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var members []string
	err = d.DB.Model(&models.Scholar{}).
		Where("affiliation = ?", author.Affiliation).
		Order("scholar_id asc").
		Pluck("scholar_id", &members).Error
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, id := range members {
		c, err := d.submissionsSince(id, since)
		if err != nil {
			return nil, 0, err
		}
		total += c
	}
	return members, total, nil
}

// FlagConflict protokolliert einen von einem Editor gemeldeten
// Interessenkonflikt als Finding.
func (d *IntegrityDetector) FlagConflict(scrollID string, agents []string, reason string) (*models.IntegrityFinding, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: conflict finding needs at least one agent", ErrValidation)
	}
	sort.Strings(agents)
	f := models.IntegrityFinding{
		FindingID: uuid.NewString(),
		Kind:      models.FindingConflictOfInterest,
		Severity:  models.SeverityMedium,
		ScrollID:  scrollID,
	}
	f.SetAgents(agents)
	f.Evidence = mustEvidence(map[string]interface{}{"reason": reason})
	if err := d.record(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// UnresolvedForScroll liefert alle offenen Findings, die den Scroll
// selbst oder einen seiner Autoren betreffen.
func (d *IntegrityDetector) UnresolvedForScroll(scroll *models.Scroll) ([]models.IntegrityFinding, error) {
	q := d.DB.Where("resolved = ?", false)
	cond := d.DB.Where("scroll_id = ?", scroll.WorkingID)
	if scroll.PublicID != "" {
		cond = cond.Or("scroll_id = ?", scroll.PublicID)
	}
	for _, author := range scroll.AuthorList() {
		cond = cond.Or("agents LIKE ?", "%\""+author+"\"%")
	}

	var findings []models.IntegrityFinding
	err := q.Where(cond).Order("created_at asc, id asc").Find(&findings).Error
	return findings, err
}

// Get lädt ein Finding über seine FindingID.
func (d *IntegrityDetector) Get(findingID string) (*models.IntegrityFinding, error) {
	var f models.IntegrityFinding
	err := d.DB.Where("finding_id = ?", findingID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: finding %s", ErrNotFound, findingID)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Resolve markiert ein Finding als erledigt. Der Datensatz selbst
// bleibt erhalten, nur der Resolved-Status ändert sich.
func (d *IntegrityDetector) Resolve(findingID, resolvedBy string) (*models.IntegrityFinding, error) {
	f, err := d.Get(findingID)
	if err != nil {
		return nil, err
	}
	if f.Resolved {
		return f, nil
	}
	now := time.Now().UTC()
	f.Resolved = true
	f.ResolvedAt = &now
	f.ResolvedBy = resolvedBy
	err = d.DB.Model(f).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_at": now,
		"resolved_by": resolvedBy,
	}).Error
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List liefert Findings, optional nach Kind und Resolved-Status gefiltert.
func (d *IntegrityDetector) List(kind string, onlyUnresolved bool, limit int) ([]models.IntegrityFinding, error) {
	q := d.DB.Order("created_at desc, id desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if onlyUnresolved {
		q = q.Where("resolved = ?", false)
	}
	var findings []models.IntegrityFinding
	err := q.Find(&findings).Error
	return findings, err
}

func (d *IntegrityDetector) hasOpenFinding(kind string, agents []string) (bool, error) {
	sorted := append([]string(nil), agents...)
	sort.Strings(sorted)
	encoded, _ := json.Marshal(sorted)

	var count int64
	err := d.DB.Model(&models.IntegrityFinding{}).
		Where("kind = ? AND resolved = ? AND agents = ?", kind, false, string(encoded)).
		Count(&count).Error
	return count > 0, err
}

func (d *IntegrityDetector) record(f *models.IntegrityFinding) error {
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(f).Error; err != nil {
			return err
		}
		target := f.ScrollID
		if target == "" {
			target = f.FindingID
		}
		_, err := d.Audit.Record(tx, models.ActionIntegrityFinding, "integrity-detector",
			target, "finding", "", "", f)
		return err
	})
	if err != nil {
		return err
	}

	d.Logger.Info("Integrity-Finding erzeugt",
		zap.String("finding_id", f.FindingID),
		zap.String("kind", f.Kind),
		zap.Int("severity", f.Severity),
		zap.String("scroll_id", f.ScrollID))

	if d.Reputation != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Reputation.FindingRecorded(ctx, *f); err != nil {
			d.Logger.Warn("Reputations-Ledger nicht erreichbar", zap.Error(err))
		}
	}
	return nil
}

func mustEvidence(ev map[string]interface{}) string {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
