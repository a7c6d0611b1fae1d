package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// Lifecycle führt Scrolls durch den Publikations-Lifecycle. Alle
// Zustandsübergänge laufen hier durch, serialisiert pro Scroll über
// einen keyed Mutex. Trigger-IDs machen Transitions idempotent.
type Lifecycle struct {
	Config    *config.Config
	Registry  *config.DomainRegistry
	DB        *gorm.DB
	Logger    *zap.Logger
	Audit     *AuditLog
	Reviews   *ReviewAggregator
	Integrity *IntegrityDetector
	Graph     *CitationGraph

	Content    collaborators.ContentStore
	Similarity collaborators.SimilaritySource
	Reputation collaborators.ReputationSink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycle verdrahtet die Lifecycle-Engine mit ihren Teilsystemen.
// Similarity und Reputation dürfen nil sein.
func NewLifecycle(cfg *config.Config, registry *config.DomainRegistry, db *gorm.DB, logger *zap.Logger,
	audit *AuditLog, reviews *ReviewAggregator, integrity *IntegrityDetector, graph *CitationGraph,
	content collaborators.ContentStore, similarity collaborators.SimilaritySource, reputation collaborators.ReputationSink) *Lifecycle {
	return &Lifecycle{
		Config:     cfg,
		Registry:   registry,
		DB:         db,
		Logger:     logger,
		Audit:      audit,
		Reviews:    reviews,
		Integrity:  integrity,
		Graph:      graph,
		Content:    content,
		Similarity: similarity,
		Reputation: reputation,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockScroll serialisiert alle Transitions eines Scrolls.
func (l *Lifecycle) lockScroll(workingID string) func() {
	l.mu.Lock()
	m, ok := l.locks[workingID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[workingID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// claimTrigger reserviert eine Trigger-ID innerhalb der Transaktion.
// false bedeutet: bereits verarbeitet, die Transition ist ein No-op.
func claimTrigger(tx *gorm.DB, triggerID, scrollID string) (bool, error) {
	if triggerID == "" {
		return true, nil
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProcessedTrigger{TriggerID: triggerID, ScrollID: scrollID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (l *Lifecycle) transitionTx(tx *gorm.DB, scroll *models.Scroll, to, actorID, action string, details interface{}) (*models.AuditEvent, error) {
	from := scroll.State
	scroll.State = to
	scroll.LastTransition = time.Now().UTC()
	if err := tx.Save(scroll).Error; err != nil {
		return nil, err
	}
	return l.Audit.Record(tx, action, actorID, scroll.WorkingID, "scroll", from, to, details)
}

// Submission ist eine eingehende Erst-Einreichung.
type Submission struct {
	TriggerID string `json:"trigger_id"`

	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Abstract    string   `json:"abstract"`
	Domain      string   `json:"domain"`
	Authors     []string `json:"authors"`
	ContentRef  string   `json:"content_ref"`
	ArtifactRef string   `json:"artifact_ref"`
	Citations   []string `json:"citations"`
	Empirical   bool     `json:"empirical"`
}

// ScreeningIssue ist ein einzelner Screening-Befund.
type ScreeningIssue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func validType(t string) bool {
	switch t {
	case models.TypePaper, models.TypeHypothesis, models.TypeMetaAnalysis,
		models.TypeRebuttal, models.TypeTutorial:
		return true
	}
	return false
}

// Submit legt einen Scroll an und führt ihn durch das Screening. Bei
// Screening-Befunden fällt der Scroll zurück auf draft, ohne eine
// Revisionsrunde zu verbrauchen.
func (l *Lifecycle) Submit(ctx context.Context, actorID string, sub Submission) (*models.Scroll, []ScreeningIssue, error) {
	if replayed, err := l.replayedScroll(sub.TriggerID); err != nil || replayed != nil {
		return replayed, nil, err
	}

	if sub.Title == "" || sub.ContentRef == "" {
		return nil, nil, fmt.Errorf("%w: title and content_ref are required", ErrValidation)
	}
	if !validType(sub.Type) {
		return nil, nil, fmt.Errorf("%w: unknown scroll type %q", ErrValidation, sub.Type)
	}
	authors := sub.Authors
	if actorID != "" && !contains(authors, actorID) {
		authors = append([]string{actorID}, authors...)
	}
	if len(authors) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one author is required", ErrValidation)
	}
	if err := l.ensureScholars(authors); err != nil {
		return nil, nil, err
	}
	if err := l.checkSubmissionSuspensions(authors); err != nil {
		return nil, nil, err
	}

	scroll := &models.Scroll{
		WorkingID:      "wip-" + uuid.NewString(),
		Title:          sub.Title,
		Type:           sub.Type,
		Abstract:       sub.Abstract,
		Domain:         sub.Domain,
		ContentRef:     sub.ContentRef,
		ArtifactRef:    sub.ArtifactRef,
		State:          models.StateDraft,
		Empirical:      sub.Empirical,
		EvidenceGrade:  models.GradeUnset,
		LastTransition: time.Now().UTC(),
	}
	scroll.SetAuthors(authors)
	scroll.SetCitations(sub.Citations)

	err := l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, sub.TriggerID, scroll.WorkingID)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
		if err := tx.Create(scroll).Error; err != nil {
			return err
		}
		_, err = l.Audit.Record(tx, models.ActionScrollSubmitted, actorID,
			scroll.WorkingID, "scroll", "", models.StateDraft, sub)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	// Die frische Einreichung zählt bereits ins Sybil-Fenster.
	if actorID != "" {
		if finding, err := l.Integrity.CheckSybil(actorID, time.Now().UTC()); err != nil {
			l.Logger.Warn("Sybil-Check fehlgeschlagen", zap.Error(err))
		} else if finding != nil {
			l.autoSanction([]models.IntegrityFinding{*finding})
		}
	}

	issues, err := l.runScreening(ctx, scroll, actorID)
	if err != nil {
		return nil, nil, err
	}
	if len(issues) == 0 {
		l.checkPlagiarism(ctx, scroll)
	}
	return scroll, issues, nil
}

func (l *Lifecycle) replayedScroll(triggerID string) (*models.Scroll, error) {
	if triggerID == "" {
		return nil, nil
	}
	var t models.ProcessedTrigger
	err := l.DB.Where("trigger_id = ?", triggerID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.GetScroll(t.ScrollID)
}

func (l *Lifecycle) ensureScholars(ids []string) error {
	for _, id := range ids {
		err := l.DB.Where("scholar_id = ?", id).
			FirstOrCreate(&models.Scholar{}, models.Scholar{ScholarID: id}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Lifecycle) checkSubmissionSuspensions(authors []string) error {
	var sanctions []models.Sanction
	err := l.DB.Where("scholar_id IN ? AND kind = ?", authors, models.SanctionSubmissionSuspension).
		Find(&sanctions).Error
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range sanctions {
		if sanctions[i].Active(now) {
			return fmt.Errorf("%w: %s has an active submission suspension", ErrSuspended, sanctions[i].ScholarID)
		}
	}
	return nil
}

// runScreening führt den Scroll durch screening und weiter nach
// in_review oder zurück in den Ausgangszustand.
func (l *Lifecycle) runScreening(ctx context.Context, scroll *models.Scroll, actorID string) ([]ScreeningIssue, error) {
	fallback := scroll.State

	err := l.DB.Transaction(func(tx *gorm.DB) error {
		_, err := l.transitionTx(tx, scroll, models.StateScreening, actorID, models.ActionScreeningStarted, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	issues := l.screen(ctx, scroll)

	if len(issues) > 0 {
		err := l.DB.Transaction(func(tx *gorm.DB) error {
			_, err := l.transitionTx(tx, scroll, fallback, actorID, models.ActionScreeningFailed, issues)
			return err
		})
		if err != nil {
			return nil, err
		}
		l.Logger.Info("Screening fehlgeschlagen",
			zap.String("working_id", scroll.WorkingID),
			zap.Int("issues", len(issues)))
		return issues, nil
	}

	err = l.DB.Transaction(func(tx *gorm.DB) error {
		_, err := l.transitionTx(tx, scroll, models.StateInReview, actorID, models.ActionScreeningPassed, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// screen wertet die formalen Einreichungsregeln aus.
func (l *Lifecycle) screen(ctx context.Context, scroll *models.Scroll) []ScreeningIssue {
	var issues []ScreeningIssue
	add := func(rule, format string, args ...interface{}) {
		issues = append(issues, ScreeningIssue{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if len(scroll.Abstract) < l.Config.Policy.MinAbstractLength {
		add("abstract_too_short", "abstract has %d characters, minimum is %d",
			len(scroll.Abstract), l.Config.Policy.MinAbstractLength)
	}
	if !l.Registry.Recognized(scroll.Domain) {
		add("unknown_domain", "domain %q is not in the registry", scroll.Domain)
	}

	info, err := l.Content.GetContent(ctx, scroll.ContentRef)
	switch {
	case err != nil:
		l.Logger.Warn("Content-Store nicht erreichbar", zap.String("ref", scroll.ContentRef), zap.Error(err))
		add("content_unavailable", "content store did not answer for ref %s", scroll.ContentRef)
	case !info.Available:
		add("content_unavailable", "no content stored for ref %s", scroll.ContentRef)
	case info.Length < l.Config.Policy.MinContentLength:
		add("content_too_short", "content has %d characters, minimum is %d",
			info.Length, l.Config.Policy.MinContentLength)
	}

	citations := scroll.CitationList()
	for _, target := range citations {
		if l.Registry.ForwardReferenceAllowed(target) {
			continue
		}
		var count int64
		err := l.DB.Model(&models.Scroll{}).
			Where("public_id = ? AND state = ?", target, models.StatePublished).
			Count(&count).Error
		if err != nil || count == 0 {
			add("unknown_citation", "citation target %s is not published", target)
		}
	}

	switch scroll.Type {
	case models.TypeMetaAnalysis:
		if len(citations) < 2 {
			add("insufficient_references", "meta_analysis needs at least 2 citations, got %d", len(citations))
		}
	case models.TypeRebuttal:
		if len(citations) < 1 {
			add("insufficient_references", "rebuttal needs at least 1 citation")
		}
	}
	return issues
}

func (l *Lifecycle) checkPlagiarism(ctx context.Context, scroll *models.Scroll) {
	if l.Similarity == nil {
		return
	}
	matches, err := l.Similarity.TopMatches(ctx, scroll.ContentRef, 5)
	if err != nil {
		l.Logger.Warn("Similarity-Dienst nicht erreichbar", zap.Error(err))
		return
	}
	findings, err := l.Integrity.CheckPlagiarism(scroll, matches)
	if err != nil {
		l.Logger.Error("Plagiats-Findings nicht persistierbar", zap.Error(err))
		return
	}
	l.autoSanction(findings)
}

// SubmitReview nimmt ein Gutachten an. Erreicht die Runde damit das
// Quorum, wird sofort entschieden; die Decision wird mit zurückgegeben.
func (l *Lifecycle) SubmitReview(ctx context.Context, triggerID string, in ReviewInput) (*models.Review, *models.Decision, error) {
	scroll, err := l.GetScroll(in.ScrollID)
	if err != nil {
		return nil, nil, err
	}
	unlock := l.lockScroll(scroll.WorkingID)
	defer unlock()
	if err := l.DB.Where("working_id = ?", scroll.WorkingID).First(scroll).Error; err != nil {
		return nil, nil, err
	}

	var review *models.Review
	var replay bool
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, triggerID, scroll.WorkingID)
		if err != nil {
			return err
		}
		if !fresh {
			replay = true
			return nil
		}
		review, err = l.Reviews.SubmitReview(tx, scroll, in)
		if err != nil {
			return err
		}
		_, err = l.Audit.Record(tx, models.ActionReviewSubmitted, in.ReviewerID,
			scroll.WorkingID, "scroll", scroll.State, scroll.State, review)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if replay {
		return nil, nil, nil
	}

	reached, count, err := l.Reviews.QuorumReached(scroll)
	if err != nil {
		return review, nil, err
	}
	if !reached {
		return review, nil, nil
	}

	err = l.DB.Transaction(func(tx *gorm.DB) error {
		_, err := l.transitionTx(tx, scroll, models.StateDecisionPending, in.ReviewerID,
			models.ActionQuorumReached, map[string]interface{}{"reviews": count})
		return err
	})
	if err != nil {
		return review, nil, err
	}

	decision, err := l.runDecision(scroll)
	return review, decision, err
}

// runDecision wertet die Policy aus und wendet das Ergebnis an.
// Der Aufrufer hält den Scroll-Lock.
func (l *Lifecycle) runDecision(scroll *models.Scroll) (*models.Decision, error) {
	if scroll.State != models.StateDecisionPending {
		return nil, fmt.Errorf("%w: decision requested in state %s", ErrInvariant, scroll.State)
	}

	agg, err := l.Reviews.Aggregate(scroll.WorkingID, scroll.Round)
	if err != nil {
		return nil, err
	}
	findings, err := l.Integrity.UnresolvedForScroll(scroll)
	if err != nil {
		return nil, err
	}
	meta := ScrollMeta{
		WorkingID: scroll.WorkingID,
		PublicID:  scroll.PublicID,
		Authors:   scroll.AuthorList(),
		Domain:    scroll.Domain,
		Type:      scroll.Type,
		Round:     scroll.Round,
		Empirical: scroll.Empirical,
	}
	res := Decide(*agg, findings, meta, l.Config.Policy)

	decision := &models.Decision{
		DecisionID:        uuid.NewString(),
		ScrollID:          scroll.WorkingID,
		Round:             scroll.Round,
		Outcome:           res.Outcome,
		MeanScore:         res.MeanScore,
		ReviewCount:       res.ReviewCount,
		IntegrityAdjusted: res.IntegrityAdjusted,
	}
	decision.SetRationale(res.Rationale)
	if trace, err := json.Marshal(res.Trace); err == nil {
		decision.RuleTrace = string(trace)
	}

	published := false
	var decisionEvent *models.AuditEvent
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(decision).Error; err != nil {
			return err
		}
		scroll.DecisionID = decision.DecisionID

		switch res.Outcome {
		case models.OutcomeAccept:
			decisionEvent, err = l.transitionTx(tx, scroll, models.StateAccepted, "policy-engine",
				models.ActionDecisionMade, decision)
			if err != nil {
				return err
			}
			if scroll.Empirical {
				_, err := l.transitionTx(tx, scroll, models.StateReproPending, "policy-engine",
					models.ActionReproGateEntered, nil)
				return err
			}
			published = true
			return l.publishTx(tx, scroll, models.GradeC, nil, "policy-engine")
		case models.OutcomeMinorRevision:
			scroll.Round++
			decisionEvent, err = l.transitionTx(tx, scroll, models.StateMinorRevision, "policy-engine",
				models.ActionDecisionMade, decision)
			return err
		case models.OutcomeMajorRevision:
			scroll.Round++
			decisionEvent, err = l.transitionTx(tx, scroll, models.StateMajorRevision, "policy-engine",
				models.ActionDecisionMade, decision)
			return err
		case models.OutcomeReject:
			decisionEvent, err = l.transitionTx(tx, scroll, models.StateRejected, "policy-engine",
				models.ActionDecisionMade, decision)
			return err
		}
		return fmt.Errorf("%w: unknown outcome %s", ErrInvariant, res.Outcome)
	})
	if err != nil {
		return nil, err
	}
	if decisionEvent != nil {
		l.Audit.Forward(*decisionEvent)
	}

	l.Logger.Info("Decision getroffen",
		zap.String("working_id", scroll.WorkingID),
		zap.String("outcome", decision.Outcome),
		zap.Float64("mean_score", decision.MeanScore),
		zap.Bool("integrity_adjusted", decision.IntegrityAdjusted))

	if published {
		l.wireCitations(scroll)
	}
	if l.Reputation != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.Reputation.DecisionRecorded(ctx, *decision); err != nil {
			l.Logger.Warn("Reputations-Ledger nicht erreichbar", zap.Error(err))
		}
	}
	return decision, nil
}

// publishTx vergibt die permanente ID und setzt den Scroll auf
// published. Die Zitationskanten entstehen nach dem Commit.
func (l *Lifecycle) publishTx(tx *gorm.DB, scroll *models.Scroll, grade string, badges []string, actorID string) error {
	// Die Sequenz wird atomar hochgezählt, nie gelesen und zurückgeschrieben.
	year := time.Now().UTC().Year()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.IDSequence{Year: year}).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.IDSequence{}).
		Where("year = ?", year).
		UpdateColumn("seq", gorm.Expr("seq + 1")).Error; err != nil {
		return err
	}
	var seq models.IDSequence
	if err := tx.Where("year = ?", year).First(&seq).Error; err != nil {
		return err
	}

	if scroll.ArtifactRef != "" {
		badges = append(badges, "artifact_complete")
	}
	var findingCount int64
	err := tx.Model(&models.IntegrityFinding{}).
		Where("scroll_id = ?", scroll.WorkingID).
		Count(&findingCount).Error
	if err != nil {
		return err
	}
	if findingCount > 0 {
		badges = append(badges, "integrity_flagged")
	}

	now := time.Now().UTC()
	scroll.PublicID = fmt.Sprintf("AX-%d-%05d", year, seq.Seq)
	scroll.PublishedAt = &now
	scroll.EvidenceGrade = grade
	scroll.SetBadges(badges)

	_, err = l.transitionTx(tx, scroll, models.StatePublished, actorID,
		models.ActionScrollPublished, map[string]interface{}{
			"public_id":      scroll.PublicID,
			"evidence_grade": grade,
			"badges":         badges,
		})
	return err
}

// wireCitations legt die Kanten für die deklarierten Zitate an und
// reicht die Paar-Deltas an die Ring-Erkennung weiter. Einzelne
// abgelehnte Kanten stoppen die Publikation nicht.
func (l *Lifecycle) wireCitations(scroll *models.Scroll) {
	for _, target := range scroll.CitationList() {
		deltas, err := l.Graph.AddEdge(scroll.PublicID, target)
		if err != nil {
			l.Logger.Warn("Zitationskante abgelehnt",
				zap.String("citing", scroll.PublicID),
				zap.String("cited", target),
				zap.Error(err))
			continue
		}
		findings, err := l.Integrity.ObservePairDeltas(deltas)
		if err != nil {
			l.Logger.Error("Ring-Erkennung fehlgeschlagen", zap.Error(err))
			continue
		}
		l.autoSanction(findings)
	}
}

// Resubmission ist eine überarbeitete Einreichung nach einer
// Revision-Decision.
type Resubmission struct {
	TriggerID string `json:"trigger_id"`
	ScrollID  string `json:"scroll_id"`

	Abstract    string   `json:"abstract"`
	ContentRef  string   `json:"content_ref"`
	ArtifactRef string   `json:"artifact_ref"`
	Citations   []string `json:"citations"`

	Responses []ResponseItem `json:"responses"`
}

// ResponseItem adressiert einen Reason-Code der letzten Decision.
type ResponseItem struct {
	ReasonCode string `json:"reason_code"`
	Response   string `json:"response"`
}

// Resubmit nimmt eine Überarbeitung an. Jeder Reason-Code der letzten
// Decision muss adressiert sein, sonst wird die Resubmission abgelehnt.
func (l *Lifecycle) Resubmit(ctx context.Context, actorID string, re Resubmission) (*models.Scroll, []ScreeningIssue, error) {
	if replayed, err := l.replayedScroll(re.TriggerID); err != nil || replayed != nil {
		return replayed, nil, err
	}

	scroll, err := l.GetScroll(re.ScrollID)
	if err != nil {
		return nil, nil, err
	}
	unlock := l.lockScroll(scroll.WorkingID)
	defer unlock()
	if err := l.DB.Where("working_id = ?", scroll.WorkingID).First(scroll).Error; err != nil {
		return nil, nil, err
	}

	if scroll.State != models.StateMinorRevision && scroll.State != models.StateMajorRevision {
		return nil, nil, fmt.Errorf("%w: scroll %s is %s, resubmission needs a revision state",
			ErrValidation, scroll.WorkingID, scroll.State)
	}
	if !contains(scroll.AuthorList(), actorID) {
		return nil, nil, fmt.Errorf("%w: %s is not an author of %s", ErrValidation, actorID, scroll.WorkingID)
	}
	if err := l.checkResponses(scroll, re.Responses); err != nil {
		return nil, nil, err
	}

	var replay bool
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, re.TriggerID, scroll.WorkingID)
		if err != nil {
			return err
		}
		if !fresh {
			replay = true
			return nil
		}
		if re.Abstract != "" {
			scroll.Abstract = re.Abstract
		}
		if re.ContentRef != "" {
			scroll.ContentRef = re.ContentRef
		}
		if re.ArtifactRef != "" {
			scroll.ArtifactRef = re.ArtifactRef
		}
		if re.Citations != nil {
			scroll.SetCitations(re.Citations)
		}
		if err := tx.Save(scroll).Error; err != nil {
			return err
		}
		// Gutachten aus einer abgebrochenen Runde fließen nicht erneut ein.
		if err := l.Reviews.SupersedeRound(tx, scroll.WorkingID, scroll.Round); err != nil {
			return err
		}
		_, err = l.Audit.Record(tx, models.ActionRevisionSubmitted, actorID,
			scroll.WorkingID, "scroll", scroll.State, scroll.State, re.Responses)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if replay {
		return scroll, nil, nil
	}

	issues, err := l.runScreening(ctx, scroll, actorID)
	if err != nil {
		return nil, nil, err
	}
	if len(issues) == 0 && re.ContentRef != "" {
		l.checkPlagiarism(ctx, scroll)
	}
	return scroll, issues, nil
}

func (l *Lifecycle) checkResponses(scroll *models.Scroll, responses []ResponseItem) error {
	var decision models.Decision
	err := l.DB.Where("scroll_id = ?", scroll.WorkingID).
		Order("created_at desc, id desc").
		First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: no decision on record for %s", ErrInvariant, scroll.WorkingID)
	}
	if err != nil {
		return err
	}

	codes := make(map[string]bool)
	for _, c := range decision.RationaleCodes() {
		codes[c] = false
	}
	for _, r := range responses {
		if _, ok := codes[r.ReasonCode]; !ok {
			return fmt.Errorf("%w: response references unknown reason code %q", ErrValidation, r.ReasonCode)
		}
		if r.Response == "" {
			return fmt.Errorf("%w: empty response for reason code %q", ErrValidation, r.ReasonCode)
		}
		codes[r.ReasonCode] = true
	}
	for code, addressed := range codes {
		if !addressed {
			return fmt.Errorf("%w: reason code %q is not addressed", ErrValidation, code)
		}
	}
	return nil
}

// ReportReplication protokolliert ein Replikationsergebnis. Die erste
// erfolgreiche Replikation öffnet das Reproducibility-Gate.
func (l *Lifecycle) ReportReplication(triggerID, scrollID, reproducerID string, success bool) (*models.Scroll, error) {
	scroll, err := l.GetScroll(scrollID)
	if err != nil {
		return nil, err
	}
	unlock := l.lockScroll(scroll.WorkingID)
	defer unlock()
	if err := l.DB.Where("working_id = ?", scroll.WorkingID).First(scroll).Error; err != nil {
		return nil, err
	}

	var replay bool
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, triggerID, scroll.WorkingID)
		if err != nil {
			return err
		}
		if !fresh {
			replay = true
			return nil
		}
		rep := &models.Replication{
			ScrollID:     scroll.WorkingID,
			ReproducerID: reproducerID,
			Success:      success,
		}
		if err := tx.Create(rep).Error; err != nil {
			return err
		}
		_, err = l.Audit.Record(tx, models.ActionReproReported, reproducerID,
			scroll.WorkingID, "scroll", scroll.State, scroll.State, rep)
		return err
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return scroll, nil
	}

	var reproducers int64
	err = l.DB.Model(&models.Replication{}).
		Where("scroll_id = ? AND success = ?", scroll.WorkingID, true).
		Distinct("reproducer_id").
		Count(&reproducers).Error
	if err != nil {
		return nil, err
	}

	// Spätere Replikationen können einen publizierten Scroll noch
	// von Grade B auf A heben.
	if scroll.State == models.StatePublished {
		if reproducers >= 2 && scroll.EvidenceGrade == models.GradeB {
			scroll.EvidenceGrade = models.GradeA
			scroll.SetBadges(append(scroll.BadgeList(), "high_confidence_methods"))
			if err := l.DB.Save(scroll).Error; err != nil {
				return nil, err
			}
		}
		return scroll, nil
	}
	if scroll.State != models.StateReproPending || reproducers == 0 {
		return scroll, nil
	}

	grade := models.GradeB
	badges := []string{"replicated"}
	if reproducers >= 2 {
		grade = models.GradeA
		badges = append(badges, "high_confidence_methods")
	}
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		return l.publishTx(tx, scroll, grade, badges, reproducerID)
	})
	if err != nil {
		return nil, err
	}
	l.wireCitations(scroll)
	return scroll, nil
}

// Retract zieht einen publizierten Scroll zurück. Die PublicID und
// alle Zitationskanten bleiben bestehen.
func (l *Lifecycle) Retract(triggerID, scrollID, actorID, reason string) (*models.Scroll, error) {
	if replayed, err := l.replayedScroll(triggerID); err != nil || replayed != nil {
		return replayed, err
	}

	scroll, err := l.GetScroll(scrollID)
	if err != nil {
		return nil, err
	}
	unlock := l.lockScroll(scroll.WorkingID)
	defer unlock()
	if err := l.DB.Where("working_id = ?", scroll.WorkingID).First(scroll).Error; err != nil {
		return nil, err
	}

	if scroll.State != models.StatePublished {
		return nil, fmt.Errorf("%w: only published scrolls can be retracted, %s is %s",
			ErrValidation, scroll.WorkingID, scroll.State)
	}

	var ev *models.AuditEvent
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, triggerID, scroll.WorkingID)
		if err != nil || !fresh {
			return err
		}
		scroll.RetractionReason = reason
		ev, err = l.transitionTx(tx, scroll, models.StateRetracted, actorID,
			models.ActionScrollRetracted, map[string]interface{}{"reason": reason})
		return err
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		l.Audit.Forward(*ev)
	}
	return scroll, nil
}

// ApplySanction verhängt eine Sanktion gegen einen Scholar. Eine
// scroll_retraction-Sanktion zieht den benannten Scroll mit zurück.
func (l *Lifecycle) ApplySanction(triggerID, scholarID, kind, reason, findingID, scrollID, actorID string, ttl *time.Duration) (*models.Sanction, error) {
	switch kind {
	case models.SanctionSubmissionSuspension, models.SanctionReviewSuspension,
		models.SanctionReputationPenalty, models.SanctionRetraction:
	default:
		return nil, fmt.Errorf("%w: unknown sanction kind %q", ErrValidation, kind)
	}
	var scholar models.Scholar
	err := l.DB.Where("scholar_id = ?", scholarID).First(&scholar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: scholar %s", ErrNotFound, scholarID)
	}
	if err != nil {
		return nil, err
	}

	sanction := &models.Sanction{
		SanctionID: uuid.NewString(),
		ScholarID:  scholarID,
		Kind:       kind,
		Reason:     reason,
		FindingID:  findingID,
		ScrollID:   scrollID,
	}
	if ttl != nil {
		expires := time.Now().UTC().Add(*ttl)
		sanction.ExpiresAt = &expires
	}

	err = l.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := claimTrigger(tx, triggerID, scrollID)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
		if err := tx.Create(sanction).Error; err != nil {
			return err
		}
		_, err = l.Audit.Record(tx, models.ActionSanctionApplied, actorID,
			scholarID, "scholar", "", "", sanction)
		return err
	})
	if err != nil {
		return nil, err
	}

	if kind == models.SanctionRetraction && scrollID != "" {
		if _, err := l.Retract("", scrollID, actorID, "sanction "+sanction.SanctionID); err != nil {
			l.Logger.Warn("Retraction aus Sanktion nicht anwendbar",
				zap.String("scroll_id", scrollID), zap.Error(err))
		}
	}
	return sanction, nil
}

// autoSanction wendet Sanktionen für schwere Findings ohne
// Editor-Review an.
func (l *Lifecycle) autoSanction(findings []models.IntegrityFinding) {
	suspension := 30 * 24 * time.Hour
	for i := range findings {
		f := &findings[i]
		if f.Severity < l.Config.Policy.SanctionAutoApplySeverity {
			continue
		}
		kind := models.SanctionReputationPenalty
		var ttl *time.Duration
		if f.Kind == models.FindingPlagiarism {
			kind = models.SanctionSubmissionSuspension
			ttl = &suspension
		}
		for _, agent := range f.AgentList() {
			_, err := l.ApplySanction("", agent, kind, "auto: "+f.Kind, f.FindingID, f.ScrollID, "integrity-detector", ttl)
			if err != nil {
				l.Logger.Warn("Auto-Sanktion fehlgeschlagen",
					zap.String("finding_id", f.FindingID),
					zap.String("scholar_id", agent),
					zap.Error(err))
			}
		}
	}
}

// SweepSybil prüft alle Autoren mit Einreichungen im Rollfenster.
// Läuft periodisch über den Cron-Scheduler.
func (l *Lifecycle) SweepSybil() {
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(l.Config.Policy.SybilWindowHours) * time.Hour)

	var scrolls []models.Scroll
	if err := l.DB.Where("created_at >= ?", windowStart).Find(&scrolls).Error; err != nil {
		l.Logger.Error("Sybil-Sweep: Scrolls nicht ladbar", zap.Error(err))
		return
	}
	seen := make(map[string]bool)
	for i := range scrolls {
		for _, author := range scrolls[i].AuthorList() {
			if seen[author] {
				continue
			}
			seen[author] = true
			finding, err := l.Integrity.CheckSybil(author, now)
			if err != nil {
				l.Logger.Warn("Sybil-Sweep: Check fehlgeschlagen",
					zap.String("scholar_id", author), zap.Error(err))
				continue
			}
			if finding != nil {
				l.autoSanction([]models.IntegrityFinding{*finding})
			}
		}
	}
	l.Logger.Info("Sybil-Sweep abgeschlossen", zap.Int("authors", len(seen)))
}

// GetScroll lädt einen Scroll über WorkingID oder PublicID.
func (l *Lifecycle) GetScroll(id string) (*models.Scroll, error) {
	var scroll models.Scroll
	err := l.DB.Where("working_id = ? OR public_id = ?", id, id).First(&scroll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: scroll %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &scroll, nil
}

// ListScrolls liefert Scrolls, optional nach Zustand gefiltert.
func (l *Lifecycle) ListScrolls(state string, limit int) ([]models.Scroll, error) {
	q := l.DB.Order("created_at desc, id desc").Limit(limit)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var scrolls []models.Scroll
	err := q.Find(&scrolls).Error
	return scrolls, err
}

// Decisions liefert alle Decisions eines Scrolls, älteste zuerst.
func (l *Lifecycle) Decisions(scrollID string) ([]models.Decision, error) {
	scroll, err := l.GetScroll(scrollID)
	if err != nil {
		return nil, err
	}
	var decisions []models.Decision
	err = l.DB.Where("scroll_id = ?", scroll.WorkingID).
		Order("created_at asc, id asc").
		Find(&decisions).Error
	return decisions, err
}

// Stats fasst den Scroll-Bestand je Zustand und je Typ zusammen.
type Stats struct {
	ByState map[string]int64 `json:"by_state"`
	ByType  map[string]int64 `json:"by_type"`
	Domains []string         `json:"domains"`
}

// Stats zählt Scrolls je Zustand und je Typ.
func (l *Lifecycle) Stats() (*Stats, error) {
	type row struct {
		Key string
		N   int64
	}
	stats := &Stats{
		ByState: make(map[string]int64),
		ByType:  make(map[string]int64),
		Domains: l.Registry.Tags(),
	}

	var byState []row
	err := l.DB.Model(&models.Scroll{}).
		Select("state as key, count(*) as n").
		Group("state").
		Scan(&byState).Error
	if err != nil {
		return nil, err
	}
	for _, r := range byState {
		stats.ByState[r.Key] = r.N
	}

	var byType []row
	err = l.DB.Model(&models.Scroll{}).
		Select("type as key, count(*) as n").
		Group("type").
		Scan(&byType).Error
	if err != nil {
		return nil, err
	}
	for _, r := range byType {
		stats.ByType[r.Key] = r.N
	}
	return stats, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
