package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// ReviewAggregator nimmt Gutachten entgegen und verdichtet sie pro
// Runde zu einem ReviewAggregate für die Policy-Auswertung.
type ReviewAggregator struct {
	Config   *config.Config
	Registry *config.DomainRegistry
	DB       *gorm.DB
	Logger   *zap.Logger
}

// NewReviewAggregator erstellt den Aggregator.
func NewReviewAggregator(cfg *config.Config, registry *config.DomainRegistry, db *gorm.DB, logger *zap.Logger) *ReviewAggregator {
	return &ReviewAggregator{
		Config:   cfg,
		Registry: registry,
		DB:       db,
		Logger:   logger,
	}
}

// ReviewInput ist ein eingehendes Gutachten.
type ReviewInput struct {
	ScrollID   string `json:"scroll_id"`
	ReviewerID string `json:"reviewer_id"`

	Originality  float64 `json:"originality"`
	Methodology  float64 `json:"methodology"`
	Significance float64 `json:"significance"`
	Clarity      float64 `json:"clarity"`
	Overall      float64 `json:"overall"`

	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Comments       string  `json:"comments"`
}

func validRecommendation(rec string) bool {
	switch rec {
	case models.RecommendAccept, models.RecommendMinorRevision,
		models.RecommendMajorRevision, models.RecommendReject:
		return true
	}
	return false
}

func validScore(v float64) bool {
	return v >= models.ScoreMin && v <= models.ScoreMax
}

// Validate prüft die Feldregeln eines Gutachtens.
func (in *ReviewInput) Validate() error {
	if in.ScrollID == "" || in.ReviewerID == "" {
		return fmt.Errorf("%w: scroll_id and reviewer_id are required", ErrValidation)
	}
	for _, v := range []float64{in.Originality, in.Methodology, in.Significance, in.Clarity, in.Overall} {
		if !validScore(v) {
			return fmt.Errorf("%w: scores must be between %.0f and %.0f", ErrValidation, models.ScoreMin, models.ScoreMax)
		}
	}
	if !validRecommendation(in.Recommendation) {
		return fmt.Errorf("%w: unknown recommendation %q", ErrValidation, in.Recommendation)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrValidation)
	}
	return nil
}

// SubmitReview persistiert ein Gutachten innerhalb der übergebenen
// Transaktion. Autoren, deklarierte COI-Partner und suspendierte
// Reviewer werden abgelehnt; pro Reviewer und Runde zählt nur das
// erste Gutachten.
func (ra *ReviewAggregator) SubmitReview(tx *gorm.DB, scroll *models.Scroll, in ReviewInput) (*models.Review, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if scroll.State != models.StateInReview {
		return nil, fmt.Errorf("%w: scroll %s is %s, not %s", ErrValidation, scroll.WorkingID, scroll.State, models.StateInReview)
	}

	if err := ra.checkConflicts(tx, scroll, in.ReviewerID); err != nil {
		return nil, err
	}
	if err := ra.checkSuspension(tx, in.ReviewerID); err != nil {
		return nil, err
	}

	var count int64
	err := tx.Model(&models.Review{}).
		Where("scroll_id = ? AND reviewer_id = ? AND round = ? AND superseded = ?",
			scroll.WorkingID, in.ReviewerID, scroll.Round, false).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s already reviewed round %d", ErrDuplicateReview, in.ReviewerID, scroll.Round)
	}

	review := &models.Review{
		ReviewID:       uuid.NewString(),
		ScrollID:       scroll.WorkingID,
		ReviewerID:     in.ReviewerID,
		Round:          scroll.Round,
		Originality:    in.Originality,
		Methodology:    in.Methodology,
		Significance:   in.Significance,
		Clarity:        in.Clarity,
		Overall:        in.Overall,
		Recommendation: in.Recommendation,
		Confidence:     in.Confidence,
		Comments:       in.Comments,
	}
	if err := tx.Create(review).Error; err != nil {
		return nil, err
	}
	return review, nil
}

func (ra *ReviewAggregator) checkConflicts(tx *gorm.DB, scroll *models.Scroll, reviewerID string) error {
	authors := scroll.AuthorList()
	for _, author := range authors {
		if author == reviewerID {
			return fmt.Errorf("%w: %s is an author of %s", ErrConflictOfInterest, reviewerID, scroll.WorkingID)
		}
	}

	var reviewer models.Scholar
	err := tx.Where("scholar_id = ?", reviewerID).First(&reviewer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: scholar %s", ErrNotFound, reviewerID)
	}
	if err != nil {
		return err
	}
	peers := make(map[string]bool)
	for _, p := range reviewer.PeerList() {
		peers[p] = true
	}
	for _, author := range authors {
		if peers[author] {
			return fmt.Errorf("%w: %s declared %s as conflict peer", ErrConflictOfInterest, reviewerID, author)
		}
	}

	var authorScholars []models.Scholar
	if err := tx.Where("scholar_id IN ?", authors).Find(&authorScholars).Error; err != nil {
		return err
	}
	for _, s := range authorScholars {
		for _, p := range s.PeerList() {
			if p == reviewerID {
				return fmt.Errorf("%w: author %s declared %s as conflict peer", ErrConflictOfInterest, s.ScholarID, reviewerID)
			}
		}
	}
	return nil
}

func (ra *ReviewAggregator) checkSuspension(tx *gorm.DB, reviewerID string) error {
	var sanctions []models.Sanction
	err := tx.Where("scholar_id = ? AND kind = ?", reviewerID, models.SanctionReviewSuspension).
		Find(&sanctions).Error
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range sanctions {
		if sanctions[i].Active(now) {
			return fmt.Errorf("%w: %s has an active review suspension", ErrSuspended, reviewerID)
		}
	}
	return nil
}

// ReviewAggregate ist die verdichtete Sicht auf alle Gutachten einer
// Runde. Reihenfolgen sind deterministisch: (created_at, reviewer_id).
type ReviewAggregate struct {
	ScrollID string
	Round    int
	Count    int

	MeanOverall      float64
	MeanOriginality  float64
	MeanMethodology  float64
	MeanSignificance float64
	MeanClarity      float64

	Reviewers       []string
	Recommendations []string
	Confidences     []float64
}

// Aggregate verdichtet die nicht-ersetzten Gutachten einer Runde.
func (ra *ReviewAggregator) Aggregate(scrollID string, round int) (*ReviewAggregate, error) {
	var reviews []models.Review
	err := ra.DB.Where("scroll_id = ? AND round = ? AND superseded = ?", scrollID, round, false).
		Order("created_at asc, reviewer_id asc").
		Find(&reviews).Error
	if err != nil {
		return nil, err
	}

	agg := &ReviewAggregate{
		ScrollID: scrollID,
		Round:    round,
		Count:    len(reviews),
	}
	for _, r := range reviews {
		agg.MeanOverall += r.Overall
		agg.MeanOriginality += r.Originality
		agg.MeanMethodology += r.Methodology
		agg.MeanSignificance += r.Significance
		agg.MeanClarity += r.Clarity
		agg.Reviewers = append(agg.Reviewers, r.ReviewerID)
		agg.Recommendations = append(agg.Recommendations, r.Recommendation)
		agg.Confidences = append(agg.Confidences, r.Confidence)
	}
	if agg.Count > 0 {
		n := float64(agg.Count)
		agg.MeanOverall /= n
		agg.MeanOriginality /= n
		agg.MeanMethodology /= n
		agg.MeanSignificance /= n
		agg.MeanClarity /= n
	}
	return agg, nil
}

// QuorumReached meldet, ob die Runde das Review-Minimum des Fachgebiets
// erreicht hat.
func (ra *ReviewAggregator) QuorumReached(scroll *models.Scroll) (bool, int, error) {
	var count int64
	err := ra.DB.Model(&models.Review{}).
		Where("scroll_id = ? AND round = ? AND superseded = ?", scroll.WorkingID, scroll.Round, false).
		Count(&count).Error
	if err != nil {
		return false, 0, err
	}
	quorum := ra.Registry.Quorum(scroll.Domain, ra.Config.Policy)
	return int(count) >= quorum, int(count), nil
}

// SupersedeRound markiert alle Gutachten einer Runde als ersetzt.
// Wird bei Resubmissions genutzt, damit alte Gutachten erhalten
// bleiben, aber nicht mehr in die Aggregation einfließen.
func (ra *ReviewAggregator) SupersedeRound(tx *gorm.DB, scrollID string, round int) error {
	return tx.Model(&models.Review{}).
		Where("scroll_id = ? AND round = ?", scrollID, round).
		Update("superseded", true).Error
}

// ForScroll liefert alle Gutachten eines Scrolls, älteste zuerst.
func (ra *ReviewAggregator) ForScroll(scrollID string) ([]models.Review, error) {
	var reviews []models.Review
	err := ra.DB.Where("scroll_id = ?", scrollID).
		Order("created_at asc, reviewer_id asc").
		Find(&reviews).Error
	return reviews, err
}
