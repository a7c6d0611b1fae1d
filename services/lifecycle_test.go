package services

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/models"
)

var publicIDPattern = regexp.MustCompile(`^AX-\d{4}-\d{5}$`)

func TestSubmitAndAcceptPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", func(sub *Submission) {
		sub.ArtifactRef = "artifact-alice"
	})
	if scroll.PublicID != "" {
		t.Fatalf("public id assigned before publication: %s", scroll.PublicID)
	}

	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.6)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.7)

	if decision == nil {
		t.Fatal("quorum of 2 should have produced a decision")
	}
	if decision.Outcome != models.OutcomeAccept {
		t.Fatalf("outcome = %s, want %s", decision.Outcome, models.OutcomeAccept)
	}

	got, err := env.lifecycle.GetScroll(scroll.WorkingID)
	if err != nil {
		t.Fatalf("get scroll: %v", err)
	}
	if got.State != models.StatePublished {
		t.Fatalf("state = %s, want %s", got.State, models.StatePublished)
	}
	if !publicIDPattern.MatchString(got.PublicID) {
		t.Fatalf("public id %q does not match AX-YYYY-NNNNN", got.PublicID)
	}
	if got.EvidenceGrade != models.GradeC {
		t.Fatalf("grade = %s, want %s for non-empirical scroll", got.EvidenceGrade, models.GradeC)
	}
	badges := got.BadgeList()
	if len(badges) != 1 || badges[0] != "artifact_complete" {
		t.Fatalf("badges = %v, want [artifact_complete]", badges)
	}

	events, err := env.audit.ForTarget(scroll.WorkingID)
	if err != nil {
		t.Fatalf("audit events: %v", err)
	}
	wantActions := map[string]bool{
		models.ActionScrollSubmitted: false,
		models.ActionScreeningPassed: false,
		models.ActionQuorumReached:   false,
		models.ActionDecisionMade:    false,
		models.ActionScrollPublished: false,
	}
	for _, ev := range events {
		if _, ok := wantActions[ev.Action]; ok {
			wantActions[ev.Action] = true
		}
	}
	for action, seen := range wantActions {
		if !seen {
			t.Errorf("audit trail is missing action %s", action)
		}
	}
}

func TestSubmitScreeningFailureReturnsToDraft(t *testing.T) {
	env := newTestEnv(t)

	sub := Submission{
		Title:      "Too thin",
		Type:       models.TypePaper,
		Abstract:   "short",
		Domain:     "nonsense-domain",
		ContentRef: "ref-thin",
		Authors:    []string{"alice"},
	}
	env.content.lengths["ref-thin"] = 50

	scroll, issues, err := env.lifecycle.Submit(context.Background(), "alice", sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(issues) < 3 {
		t.Fatalf("issues = %+v, want abstract, domain and content findings", issues)
	}
	if scroll.State != models.StateDraft {
		t.Fatalf("state = %s, want %s", scroll.State, models.StateDraft)
	}
	if scroll.Round != 0 {
		t.Fatalf("screening failure must not consume a round, got %d", scroll.Round)
	}
}

func TestSubmitMetaAnalysisNeedsTwoReferences(t *testing.T) {
	env := newTestEnv(t)
	env.seedPublished(t, "AX-2025-00001", "carol")

	sub := Submission{
		Title:      "A meta-analysis with one reference",
		Type:       models.TypeMetaAnalysis,
		Abstract:   longAbstract,
		Domain:     "biology",
		ContentRef: "ref-meta",
		Authors:    []string{"alice"},
		Citations:  []string{"AX-2025-00001"},
	}
	env.content.lengths["ref-meta"] = 400

	_, issues, err := env.lifecycle.Submit(context.Background(), "alice", sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(issues) != 1 || issues[0].Rule != "insufficient_references" {
		t.Fatalf("issues = %+v, want insufficient_references", issues)
	}
}

func TestSubmitTriggerReplayReturnsSameScroll(t *testing.T) {
	env := newTestEnv(t)

	first := env.submitScroll(t, "alice", func(s *Submission) {
		s.TriggerID = "trig-submit-1"
	})

	again, issues, err := env.lifecycle.Submit(context.Background(), "alice", Submission{
		TriggerID:  "trig-submit-1",
		Title:      "Completely different",
		Type:       models.TypePaper,
		Abstract:   longAbstract,
		Domain:     "systems",
		ContentRef: "ref-other",
		Authors:    []string{"alice"},
	})
	if err != nil {
		t.Fatalf("replayed submit: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("replay produced issues: %+v", issues)
	}
	if again.WorkingID != first.WorkingID {
		t.Fatalf("replay created a second scroll: %s vs %s", again.WorkingID, first.WorkingID)
	}

	var count int64
	env.db.Model(&models.Scroll{}).Count(&count)
	if count != 1 {
		t.Fatalf("scroll count = %d, want 1", count)
	}
}

func TestReviewTriggerReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")

	scroll := env.submitScroll(t, "alice", nil)

	in := ReviewInput{
		ScrollID: scroll.WorkingID, ReviewerID: "rev-1",
		Originality: 7, Methodology: 7, Significance: 7, Clarity: 7, Overall: 7,
		Recommendation: models.RecommendAccept, Confidence: 0.5,
	}
	if _, _, err := env.lifecycle.SubmitReview(context.Background(), "trig-rev-1", in); err != nil {
		t.Fatalf("first review: %v", err)
	}
	review, decision, err := env.lifecycle.SubmitReview(context.Background(), "trig-rev-1", in)
	if err != nil {
		t.Fatalf("replayed review: %v", err)
	}
	if review != nil || decision != nil {
		t.Fatal("replayed trigger must not create a second review or decision")
	}

	var count int64
	env.db.Model(&models.Review{}).Count(&count)
	if count != 1 {
		t.Fatalf("review count = %d, want 1", count)
	}
}

func TestRevisionFlowAndResubmission(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", nil)

	env.review(t, scroll.WorkingID, "rev-1", 5.5, models.RecommendMinorRevision, 0.5)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 5.5, models.RecommendMinorRevision, 0.5)
	if decision == nil || decision.Outcome != models.OutcomeMinorRevision {
		t.Fatalf("decision = %+v, want minor_revision", decision)
	}

	got, _ := env.lifecycle.GetScroll(scroll.WorkingID)
	if got.State != models.StateMinorRevision || got.Round != 1 {
		t.Fatalf("state = %s round = %d, want minor_revision round 1", got.State, got.Round)
	}

	// Unadressierte Reason-Codes werden abgelehnt.
	_, _, err := env.lifecycle.Resubmit(context.Background(), "alice", Resubmission{
		ScrollID:  scroll.WorkingID,
		Responses: nil,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("resubmit without responses: err = %v, want ErrValidation", err)
	}

	// Unbekannte Codes ebenso.
	_, _, err = env.lifecycle.Resubmit(context.Background(), "alice", Resubmission{
		ScrollID: scroll.WorkingID,
		Responses: []ResponseItem{
			{ReasonCode: "made_up_code", Response: "done"},
		},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("resubmit with unknown code: err = %v, want ErrValidation", err)
	}

	// Nur Autoren dürfen resubmitten.
	_, _, err = env.lifecycle.Resubmit(context.Background(), "rev-1", Resubmission{
		ScrollID: scroll.WorkingID,
		Responses: []ResponseItem{
			{ReasonCode: ReasonScoreMinor, Response: "tightened the evaluation section"},
		},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("resubmit by non-author: err = %v, want ErrValidation", err)
	}

	resubmitted, issues, err := env.lifecycle.Resubmit(context.Background(), "alice", Resubmission{
		ScrollID: scroll.WorkingID,
		Abstract: longAbstract + " Now with a sharper evaluation.",
		Responses: []ResponseItem{
			{ReasonCode: ReasonScoreMinor, Response: "tightened the evaluation section"},
		},
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("resubmit issues: %+v", issues)
	}
	if resubmitted.State != models.StateInReview || resubmitted.Round != 1 {
		t.Fatalf("state = %s round = %d, want in_review round 1", resubmitted.State, resubmitted.Round)
	}
}

func TestThirdRevisionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", nil)

	resubmit := func(round int) {
		t.Helper()
		_, _, err := env.lifecycle.Resubmit(context.Background(), "alice", Resubmission{
			ScrollID: scroll.WorkingID,
			Responses: []ResponseItem{
				{ReasonCode: ReasonScoreMinor, Response: "revised once more"},
			},
		})
		if err != nil {
			t.Fatalf("resubmit for round %d: %v", round, err)
		}
	}

	// Runde 0 und 1 enden jeweils in minor_revision.
	for round := 0; round < 2; round++ {
		env.review(t, scroll.WorkingID, "rev-1", 5.5, models.RecommendMinorRevision, 0.5)
		_, decision := env.review(t, scroll.WorkingID, "rev-2", 5.5, models.RecommendMinorRevision, 0.5)
		if decision == nil || decision.Outcome != models.OutcomeMinorRevision {
			t.Fatalf("round %d: decision = %+v, want minor_revision", round, decision)
		}
		resubmit(round)
	}

	// Runde 2: dieselben Scores, aber das Limit von 3 Runden greift.
	env.review(t, scroll.WorkingID, "rev-1", 5.5, models.RecommendMinorRevision, 0.5)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 5.5, models.RecommendMinorRevision, 0.5)
	if decision == nil || decision.Outcome != models.OutcomeReject {
		t.Fatalf("decision = %+v, want reject via round limit", decision)
	}
	found := false
	for _, code := range decision.RationaleCodes() {
		if code == ReasonRoundLimitExceeded {
			found = true
		}
	}
	if !found {
		t.Fatalf("rationale = %v, want %s", decision.RationaleCodes(), ReasonRoundLimitExceeded)
	}

	got, _ := env.lifecycle.GetScroll(scroll.WorkingID)
	if got.State != models.StateRejected {
		t.Fatalf("state = %s, want %s", got.State, models.StateRejected)
	}
}

func TestReproducibilityGateAndGrades(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", func(s *Submission) {
		s.Empirical = true
	})

	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)
	if decision == nil || decision.Outcome != models.OutcomeAccept {
		t.Fatalf("decision = %+v, want accept", decision)
	}

	got, _ := env.lifecycle.GetScroll(scroll.WorkingID)
	if got.State != models.StateReproPending {
		t.Fatalf("state = %s, want %s", got.State, models.StateReproPending)
	}

	// Fehlschlag öffnet das Gate nicht.
	got, err := env.lifecycle.ReportReplication("", scroll.WorkingID, "rep-1", false)
	if err != nil {
		t.Fatalf("failed replication: %v", err)
	}
	if got.State != models.StateReproPending {
		t.Fatalf("state after failed replication = %s, want %s", got.State, models.StateReproPending)
	}

	// Erste erfolgreiche Replikation publiziert mit Grade B.
	got, err = env.lifecycle.ReportReplication("", scroll.WorkingID, "rep-1", true)
	if err != nil {
		t.Fatalf("successful replication: %v", err)
	}
	if got.State != models.StatePublished || got.EvidenceGrade != models.GradeB {
		t.Fatalf("state = %s grade = %s, want published grade B", got.State, got.EvidenceGrade)
	}
	if !contains(got.BadgeList(), "replicated") {
		t.Fatalf("badges = %v, want replicated", got.BadgeList())
	}

	// Zweiter unabhängiger Reproducer hebt auf Grade A.
	got, err = env.lifecycle.ReportReplication("", scroll.WorkingID, "rep-2", true)
	if err != nil {
		t.Fatalf("second replication: %v", err)
	}
	if got.EvidenceGrade != models.GradeA {
		t.Fatalf("grade = %s, want A after two unique reproducers", got.EvidenceGrade)
	}
	if !contains(got.BadgeList(), "high_confidence_methods") {
		t.Fatalf("badges = %v, want high_confidence_methods", got.BadgeList())
	}
}

func TestRetractOnlyFromPublished(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", nil)
	if _, err := env.lifecycle.Retract("", scroll.WorkingID, "editor-1", "nope"); !errors.Is(err, ErrValidation) {
		t.Fatalf("retract in review: err = %v, want ErrValidation", err)
	}

	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)

	got, err := env.lifecycle.Retract("", scroll.WorkingID, "editor-1", "fabricated data")
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	if got.State != models.StateRetracted {
		t.Fatalf("state = %s, want %s", got.State, models.StateRetracted)
	}
	if got.RetractionReason != "fabricated data" {
		t.Fatalf("reason = %q", got.RetractionReason)
	}
	if got.PublicID == "" {
		t.Fatal("retraction must keep the public id")
	}
}

func TestPublicationWiresCitationEdges(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")
	env.seedPublished(t, "AX-2024-00007", "carol")

	scroll := env.submitScroll(t, "alice", func(s *Submission) {
		s.Citations = []string{"AX-2024-00007"}
	})
	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)

	got, _ := env.lifecycle.GetScroll(scroll.WorkingID)
	if got.State != models.StatePublished {
		t.Fatalf("state = %s, want published", got.State)
	}
	refs, err := env.graph.References(got.PublicID)
	if err != nil {
		t.Fatalf("references: %v", err)
	}
	if len(refs) != 1 || refs[0] != "AX-2024-00007" {
		t.Fatalf("references = %v, want [AX-2024-00007]", refs)
	}
}

func TestPlagiarismFindingForcesReject(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")
	env.sim.matches = []collaborators.SimilarityMatch{
		{ScrollID: "AX-2023-00042", Similarity: 0.97},
	}

	scroll := env.submitScroll(t, "alice", nil)

	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)

	if decision == nil || decision.Outcome != models.OutcomeReject {
		t.Fatalf("decision = %+v, want reject", decision)
	}
	if !decision.IntegrityAdjusted {
		t.Fatal("integrity_adjusted should be true, score alone would accept")
	}

	// Kritische Plagiats-Findings ziehen eine automatische
	// Submission-Sperre nach sich.
	var sanctions []models.Sanction
	env.db.Where("scholar_id = ?", "alice").Find(&sanctions)
	if len(sanctions) == 0 {
		t.Fatal("expected an automatic sanction against the author")
	}
}

func TestSuspendedAuthorCannotSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "mallory", "")
	env.db.Create(&models.Sanction{
		SanctionID: "sanction-1",
		ScholarID:  "mallory",
		Kind:       models.SanctionSubmissionSuspension,
	})

	_, _, err := env.lifecycle.Submit(context.Background(), "mallory", Submission{
		Title:      "Sneaky resubmission",
		Type:       models.TypePaper,
		Abstract:   longAbstract,
		Domain:     "systems",
		ContentRef: "ref-mallory",
	})
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}
}

func TestStatsCountsByStateAndType(t *testing.T) {
	env := newTestEnv(t)
	env.submitScroll(t, "alice", nil)
	env.submitScroll(t, "bob", func(sub *Submission) {
		sub.Type = models.TypeHypothesis
	})

	stats, err := env.lifecycle.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ByState[models.StateInReview] != 2 {
		t.Fatalf("in_review count = %d, want 2", stats.ByState[models.StateInReview])
	}
	if stats.ByType[models.TypePaper] != 1 || stats.ByType[models.TypeHypothesis] != 1 {
		t.Fatalf("type counts = %v, want one paper and one hypothesis", stats.ByType)
	}
	if !contains(stats.Domains, "systems") {
		t.Fatalf("domains = %v, want systems listed", stats.Domains)
	}
}

func TestResubmitTriggerReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", nil)
	env.review(t, scroll.WorkingID, "rev-1", 5.5, models.RecommendMinorRevision, 0.5)
	env.review(t, scroll.WorkingID, "rev-2", 5.5, models.RecommendMinorRevision, 0.5)

	re := Resubmission{
		TriggerID: "trig-resub-1",
		ScrollID:  scroll.WorkingID,
		Responses: []ResponseItem{
			{ReasonCode: ReasonScoreMinor, Response: "tightened the evaluation section"},
		},
	}
	first, _, err := env.lifecycle.Resubmit(context.Background(), "alice", re)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.State != models.StateInReview {
		t.Fatalf("state = %s, want %s", first.State, models.StateInReview)
	}

	// Nach der ersten Anwendung ist der Scroll nicht mehr in einem
	// Revisions-Zustand; das Replay muss trotzdem ein No-op bleiben.
	again, issues, err := env.lifecycle.Resubmit(context.Background(), "alice", re)
	if err != nil {
		t.Fatalf("replayed resubmit: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("replay produced issues: %+v", issues)
	}
	if again.WorkingID != scroll.WorkingID || again.State != models.StateInReview || again.Round != 1 {
		t.Fatalf("replay = %s in %s round %d, want same scroll in in_review round 1",
			again.WorkingID, again.State, again.Round)
	}

	var revisions int64
	env.db.Model(&models.AuditEvent{}).
		Where("action = ? AND target_id = ?", models.ActionRevisionSubmitted, scroll.WorkingID).
		Count(&revisions)
	if revisions != 1 {
		t.Fatalf("revision events = %d, want 1", revisions)
	}
}

func TestRetractTriggerReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	scroll := env.submitScroll(t, "alice", nil)
	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)

	if _, err := env.lifecycle.Retract("trig-retract-1", scroll.WorkingID, "editor-1", "fabricated data"); err != nil {
		t.Fatalf("retract: %v", err)
	}

	// Der Scroll ist längst retracted; dasselbe Trigger-Event darf
	// trotzdem keinen Validierungsfehler auslösen.
	again, err := env.lifecycle.Retract("trig-retract-1", scroll.WorkingID, "editor-1", "fabricated data")
	if err != nil {
		t.Fatalf("replayed retract: %v", err)
	}
	if again.State != models.StateRetracted {
		t.Fatalf("state = %s, want %s", again.State, models.StateRetracted)
	}

	var retractions int64
	env.db.Model(&models.AuditEvent{}).
		Where("action = ? AND target_id = ?", models.ActionScrollRetracted, scroll.WorkingID).
		Count(&retractions)
	if retractions != 1 {
		t.Fatalf("retraction events = %d, want 1", retractions)
	}
}

func TestPublicIDsAreUniqueAndSequential(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")

	publish := func(author string) *models.Scroll {
		t.Helper()
		scroll := env.submitScroll(t, author, nil)
		env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
		env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)
		got, err := env.lifecycle.GetScroll(scroll.WorkingID)
		if err != nil {
			t.Fatalf("get scroll: %v", err)
		}
		if got.State != models.StatePublished {
			t.Fatalf("state = %s, want %s", got.State, models.StatePublished)
		}
		return got
	}

	first := publish("alice")
	second := publish("bob")

	firstSeq, err := strconv.Atoi(first.PublicID[len(first.PublicID)-5:])
	if err != nil {
		t.Fatalf("parse %s: %v", first.PublicID, err)
	}
	secondSeq, err := strconv.Atoi(second.PublicID[len(second.PublicID)-5:])
	if err != nil {
		t.Fatalf("parse %s: %v", second.PublicID, err)
	}
	if secondSeq != firstSeq+1 {
		t.Fatalf("sequence %d -> %d, want consecutive numbers", firstSeq, secondSeq)
	}

	// Die Eindeutigkeit ist im Schema verankert, nicht nur im Ablauf.
	dup := &models.Scroll{WorkingID: "wip-dup", Title: "dup", PublicID: first.PublicID}
	if err := env.db.Create(dup).Error; err == nil {
		t.Fatal("duplicate public id must violate the unique index")
	}

	// Unpublizierte Scrolls teilen sich die leere PublicID weiterhin.
	for _, id := range []string{"wip-empty-1", "wip-empty-2"} {
		if err := env.db.Create(&models.Scroll{WorkingID: id, Title: "draft", State: models.StateDraft}).Error; err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
}
