package services

import (
	"testing"
	"time"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/models"
)

func TestCheckPlagiarismThreshold(t *testing.T) {
	env := newTestEnv(t)
	scroll := &models.Scroll{WorkingID: "wip-p", Title: "t"}
	scroll.SetAuthors([]string{"alice"})
	if err := env.db.Create(scroll).Error; err != nil {
		t.Fatalf("create scroll: %v", err)
	}

	findings, err := env.integrity.CheckPlagiarism(scroll, []collaborators.SimilarityMatch{
		{ScrollID: "AX-2024-00001", Similarity: 0.91},
		{ScrollID: "AX-2024-00002", Similarity: 0.95},
	})
	if err != nil {
		t.Fatalf("check plagiarism: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1 (only the match above 0.92)", len(findings))
	}
	f := findings[0]
	if f.Kind != models.FindingPlagiarism || f.Severity != models.SeverityCritical {
		t.Fatalf("finding = %s severity %d, want critical plagiarism", f.Kind, f.Severity)
	}
	if f.ScrollID != "wip-p" {
		t.Fatalf("finding scroll = %s, want wip-p", f.ScrollID)
	}
}

func TestRingFindingAtThreshold(t *testing.T) {
	env := newTestEnv(t)

	below := []PairDelta{{AgentA: "alice", AgentB: "bob", AToB: 4, BToA: 5, Reciprocal: 4}}
	findings, err := env.integrity.ObservePairDeltas(below)
	if err != nil {
		t.Fatalf("observe below threshold: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("4 reciprocal pairs must not trigger, got %+v", findings)
	}

	at := []PairDelta{{AgentA: "alice", AgentB: "bob", AToB: 5, BToA: 5, Reciprocal: 5}}
	findings, err = env.integrity.ObservePairDeltas(at)
	if err != nil {
		t.Fatalf("observe at threshold: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Kind != models.FindingCitationRing {
		t.Fatalf("kind = %s, want citation_ring", findings[0].Kind)
	}

	// Ein offenes Finding pro Paar, auch wenn der Zähler weiter steigt.
	more := []PairDelta{{AgentA: "alice", AgentB: "bob", AToB: 6, BToA: 5, Reciprocal: 5}}
	findings, err = env.integrity.ObservePairDeltas(more)
	if err != nil {
		t.Fatalf("observe again: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("duplicate open finding created: %+v", findings)
	}

	// Nach der Auflösung darf ein neuer Verstoß wieder gemeldet werden.
	open, err := env.integrity.List(models.FindingCitationRing, true, 10)
	if err != nil || len(open) != 1 {
		t.Fatalf("open findings = %v (%v)", open, err)
	}
	if _, err := env.integrity.Resolve(open[0].FindingID, "editor-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	findings, err = env.integrity.ObservePairDeltas(more)
	if err != nil {
		t.Fatalf("observe after resolve: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings after resolve = %d, want 1", len(findings))
	}
}

func TestSybilBurstDetection(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "mallory", "")

	now := time.Now().UTC()
	for i := 0; i < 11; i++ {
		s := &models.Scroll{
			WorkingID: "wip-sybil-" + string(rune('a'+i)),
			Title:     "burst",
			State:     models.StateDraft,
		}
		s.SetAuthors([]string{"mallory"})
		if err := env.db.Create(s).Error; err != nil {
			t.Fatalf("seed scroll %d: %v", i, err)
		}
	}

	finding, err := env.integrity.CheckSybil("mallory", now)
	if err != nil {
		t.Fatalf("check sybil: %v", err)
	}
	if finding == nil {
		t.Fatal("11 submissions in the window must trigger a sybil finding")
	}
	if finding.Kind != models.FindingSybilBurst {
		t.Fatalf("kind = %s, want sybil_burst", finding.Kind)
	}

	// Offenes Finding wird nicht dupliziert.
	again, err := env.integrity.CheckSybil("mallory", now)
	if err != nil {
		t.Fatalf("check sybil again: %v", err)
	}
	if again != nil {
		t.Fatalf("duplicate sybil finding: %+v", again)
	}
}

func TestSybilClusterDetection(t *testing.T) {
	env := newTestEnv(t)
	// Sechs Konten derselben Affiliation, je zwei Einreichungen.
	for i := 0; i < 6; i++ {
		id := "clone-" + string(rune('a'+i))
		env.addScholar(t, id, "shadow-lab")
		for j := 0; j < 2; j++ {
			s := &models.Scroll{
				WorkingID: id + "-" + string(rune('0'+j)),
				Title:     "cluster",
				State:     models.StateDraft,
			}
			s.SetAuthors([]string{id})
			if err := env.db.Create(s).Error; err != nil {
				t.Fatalf("seed scroll: %v", err)
			}
		}
	}

	finding, err := env.integrity.CheckSybil("clone-a", time.Now().UTC())
	if err != nil {
		t.Fatalf("check sybil: %v", err)
	}
	if finding == nil {
		t.Fatal("12 cluster submissions must trigger a finding")
	}
	if len(finding.AgentList()) != 6 {
		t.Fatalf("agents = %v, want all six cluster members", finding.AgentList())
	}
}

func TestUnresolvedForScrollMatchesAuthors(t *testing.T) {
	env := newTestEnv(t)
	scroll := &models.Scroll{WorkingID: "wip-u", Title: "t"}
	scroll.SetAuthors([]string{"alice"})
	if err := env.db.Create(scroll).Error; err != nil {
		t.Fatalf("create scroll: %v", err)
	}

	ring := []PairDelta{{AgentA: "alice", AgentB: "mallory", AToB: 5, BToA: 5, Reciprocal: 5}}
	if _, err := env.integrity.ObservePairDeltas(ring); err != nil {
		t.Fatalf("observe: %v", err)
	}
	other := []PairDelta{{AgentA: "trent", AgentB: "zoe", AToB: 5, BToA: 5, Reciprocal: 5}}
	if _, err := env.integrity.ObservePairDeltas(other); err != nil {
		t.Fatalf("observe other: %v", err)
	}

	findings, err := env.integrity.UnresolvedForScroll(scroll)
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want only the one naming an author", len(findings))
	}
	agents := findings[0].AgentList()
	if len(agents) != 2 || agents[0] != "alice" {
		t.Fatalf("agents = %v, want [alice mallory]", agents)
	}
}

func TestFindingsAreAppendOnlyForScrolls(t *testing.T) {
	env := newTestEnv(t)
	scroll := &models.Scroll{WorkingID: "wip-ro", Title: "t", State: models.StateInReview}
	scroll.SetAuthors([]string{"alice"})
	if err := env.db.Create(scroll).Error; err != nil {
		t.Fatalf("create scroll: %v", err)
	}

	if _, err := env.integrity.CheckPlagiarism(scroll, []collaborators.SimilarityMatch{
		{ScrollID: "AX-2024-00009", Similarity: 0.99},
	}); err != nil {
		t.Fatalf("check plagiarism: %v", err)
	}

	var got models.Scroll
	if err := env.db.Where("working_id = ?", "wip-ro").First(&got).Error; err != nil {
		t.Fatalf("reload scroll: %v", err)
	}
	if got.State != models.StateInReview {
		t.Fatalf("finding changed scroll state to %s", got.State)
	}
}
