package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// fakeContentStore beantwortet Metadaten-Anfragen aus einer Map.
type fakeContentStore struct {
	lengths map[string]int
}

func (f *fakeContentStore) GetContent(_ context.Context, ref string) (collaborators.ContentInfo, error) {
	n, ok := f.lengths[ref]
	if !ok {
		return collaborators.ContentInfo{}, nil
	}
	return collaborators.ContentInfo{Length: n, Available: true}, nil
}

// fakeSimilarity liefert vorkonfigurierte Treffer.
type fakeSimilarity struct {
	matches []collaborators.SimilarityMatch
}

func (f *fakeSimilarity) TopMatches(_ context.Context, _ string, _ int) ([]collaborators.SimilarityMatch, error) {
	return f.matches, nil
}

type testEnv struct {
	cfg       *config.Config
	registry  *config.DomainRegistry
	db        *gorm.DB
	audit     *AuditLog
	reviews   *ReviewAggregator
	graph     *CitationGraph
	integrity *IntegrityDetector
	lifecycle *Lifecycle
	content   *fakeContentStore
	sim       *fakeSimilarity
}

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		MinReviewsNormal:          2,
		MinReviewsHighImpact:      3,
		AcceptScoreThreshold:      6.0,
		MinorRevisionBand:         1.0,
		MajorRevisionBand:         2.5,
		MaxRevisionRounds:         3,
		MinAbstractLength:         50,
		MinContentLength:          200,
		PlagiarismThreshold:       0.92,
		CitationRingThreshold:     5,
		RingCycleBound:            4,
		SybilWindowHours:          1,
		SybilMaxSubmissions:       10,
		LineageMaxDepth:           10,
		HighConfidenceRejectBar:   0.8,
		SanctionAutoApplySeverity: 3,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.Scroll{}, &models.Review{}, &models.Decision{},
		&models.IntegrityFinding{}, &models.CitationEdge{}, &models.AgentPairStat{},
		&models.AuditEvent{}, &models.ProcessedTrigger{},
		&models.Scholar{}, &models.Sanction{},
		&models.Replication{}, &models.IDSequence{},
	)
	if err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	cfg := &config.Config{Policy: testPolicy()}
	registry := config.DefaultRegistry()
	logging := zap.NewNop()

	env := &testEnv{
		cfg:      cfg,
		registry: registry,
		db:       db,
		content:  &fakeContentStore{lengths: make(map[string]int)},
		sim:      &fakeSimilarity{},
	}
	env.audit = NewAuditLog(cfg, db, logging, nil)
	env.reviews = NewReviewAggregator(cfg, registry, db, logging)
	env.graph = NewCitationGraph(cfg, db, logging)
	env.integrity = NewIntegrityDetector(cfg, db, logging, env.audit, nil)
	env.lifecycle = NewLifecycle(cfg, registry, db, logging, env.audit, env.reviews,
		env.integrity, env.graph, env.content, env.sim, nil)
	return env
}

func (env *testEnv) addScholar(t *testing.T, id, affiliation string, peers ...string) {
	t.Helper()
	s := models.Scholar{ScholarID: id, Affiliation: affiliation}
	s.SetPeers(peers)
	if err := env.db.Create(&s).Error; err != nil {
		t.Fatalf("create scholar %s: %v", id, err)
	}
}

const longAbstract = "This abstract is comfortably longer than the fifty character screening minimum."

// submitScroll reicht einen Scroll ein und erwartet, dass das
// Screening durchläuft.
func (env *testEnv) submitScroll(t *testing.T, author string, mutate func(*Submission)) *models.Scroll {
	t.Helper()
	sub := Submission{
		Title:      "On the Stability of Distributed Consensus",
		Type:       models.TypePaper,
		Abstract:   longAbstract,
		Domain:     "systems",
		ContentRef: "ref-" + author,
		Authors:    []string{author},
	}
	if mutate != nil {
		mutate(&sub)
	}
	env.content.lengths[sub.ContentRef] = 400

	scroll, issues, err := env.lifecycle.Submit(context.Background(), author, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(issues) > 0 {
		t.Fatalf("submit: unexpected screening issues %+v", issues)
	}
	if scroll.State != models.StateInReview {
		t.Fatalf("submit: state = %s, want %s", scroll.State, models.StateInReview)
	}
	return scroll
}

// review reicht ein Gutachten mit identischen Einzel-Scores ein.
func (env *testEnv) review(t *testing.T, scrollID, reviewerID string, overall float64, rec string, confidence float64) (*models.Review, *models.Decision) {
	t.Helper()
	review, decision, err := env.lifecycle.SubmitReview(context.Background(), "", ReviewInput{
		ScrollID:       scrollID,
		ReviewerID:     reviewerID,
		Originality:    overall,
		Methodology:    overall,
		Significance:   overall,
		Clarity:        overall,
		Overall:        overall,
		Recommendation: rec,
		Confidence:     confidence,
	})
	if err != nil {
		t.Fatalf("review by %s: %v", reviewerID, err)
	}
	return review, decision
}

// seedPublished legt einen bereits publizierten Scroll direkt an.
func (env *testEnv) seedPublished(t *testing.T, publicID string, authors ...string) *models.Scroll {
	t.Helper()
	scroll := &models.Scroll{
		WorkingID:     "wip-" + publicID,
		PublicID:      publicID,
		Title:         "Seeded " + publicID,
		Type:          models.TypePaper,
		Domain:        "systems",
		State:         models.StatePublished,
		EvidenceGrade: models.GradeC,
	}
	scroll.SetAuthors(authors)
	if err := env.db.Create(scroll).Error; err != nil {
		t.Fatalf("seed published scroll %s: %v", publicID, err)
	}
	return scroll
}
