package services

import (
	"fmt"

	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// Reason-Codes der Policy-Auswertung. Sie landen als Rationale in der
// Decision und müssen bei Resubmissions adressiert werden.
const (
	ReasonRejectMajority     = "reject_majority"
	ReasonCriticalFlag       = "critical_reviewer_flag"
	ReasonScoreAccept        = "score_above_threshold"
	ReasonScoreMinor         = "score_within_minor_band"
	ReasonScoreMajor         = "score_within_major_band"
	ReasonScoreFarBelow      = "score_far_below_threshold"
	ReasonIntegrityReject    = "integrity_forced_reject"
	ReasonIntegrityHold      = "integrity_hold"
	ReasonRoundLimitExceeded = "round_limit_exceeded"
)

// ScrollMeta sind die für die Entscheidung relevanten Scroll-Felder,
// als reiner Wert ohne Persistenz-Anbindung.
type ScrollMeta struct {
	WorkingID string
	PublicID  string
	Authors   []string
	Domain    string
	Type      string
	Round     int
	Empirical bool
}

// RuleEvaluation protokolliert die Auswertung einer einzelnen Regel.
type RuleEvaluation struct {
	Rule        string `json:"rule"`
	Triggered   bool   `json:"triggered"`
	Explanation string `json:"explanation"`
}

// DecisionResult ist das Ergebnis einer Policy-Auswertung.
type DecisionResult struct {
	Outcome           string
	MeanScore         float64
	ReviewCount       int
	IntegrityAdjusted bool
	Rationale         []string
	Trace             []RuleEvaluation
}

// Decide wertet die Redaktions-Policy aus. Die Funktion ist pur und
// deterministisch: gleiche Eingaben liefern exakt dasselbe Ergebnis.
// Sie liest weder Uhr noch Datenbank und verändert keinen Zustand.
//
// Regelreihenfolge: Reject-Mehrheit, kritischer Reviewer-Flag,
// Score-Bänder, Integrity-Override, Rundenlimit.
func Decide(agg ReviewAggregate, findings []models.IntegrityFinding, meta ScrollMeta, policy config.PolicyConfig) DecisionResult {
	res := DecisionResult{
		MeanScore:   agg.MeanOverall,
		ReviewCount: agg.Count,
	}
	trace := func(rule string, triggered bool, format string, args ...interface{}) {
		res.Trace = append(res.Trace, RuleEvaluation{
			Rule:        rule,
			Triggered:   triggered,
			Explanation: fmt.Sprintf(format, args...),
		})
	}

	rejects := 0
	for _, rec := range agg.Recommendations {
		if rec == models.RecommendReject {
			rejects++
		}
	}
	rejectMajority := agg.Count > 0 && rejects*2 > agg.Count
	trace(ReasonRejectMajority, rejectMajority, "%d of %d recommendations are reject", rejects, agg.Count)

	criticalFlag := false
	for i, rec := range agg.Recommendations {
		if rec == models.RecommendReject && agg.Confidences[i] >= policy.HighConfidenceRejectBar {
			criticalFlag = true
			break
		}
	}
	trace(ReasonCriticalFlag, criticalFlag, "reject recommendation with confidence >= %.2f", policy.HighConfidenceRejectBar)

	var outcome string
	switch {
	case rejectMajority:
		outcome = models.OutcomeReject
		res.Rationale = append(res.Rationale, ReasonRejectMajority)
	case criticalFlag:
		outcome = models.OutcomeReject
		res.Rationale = append(res.Rationale, ReasonCriticalFlag)
	case agg.MeanOverall >= policy.AcceptScoreThreshold:
		outcome = models.OutcomeAccept
		res.Rationale = append(res.Rationale, ReasonScoreAccept)
		trace(ReasonScoreAccept, true, "mean %.2f >= %.2f", agg.MeanOverall, policy.AcceptScoreThreshold)
	case agg.MeanOverall >= policy.AcceptScoreThreshold-policy.MinorRevisionBand:
		outcome = models.OutcomeMinorRevision
		res.Rationale = append(res.Rationale, ReasonScoreMinor)
		trace(ReasonScoreMinor, true, "mean %.2f within %.2f of threshold %.2f", agg.MeanOverall, policy.MinorRevisionBand, policy.AcceptScoreThreshold)
	case agg.MeanOverall >= policy.AcceptScoreThreshold-policy.MajorRevisionBand:
		outcome = models.OutcomeMajorRevision
		res.Rationale = append(res.Rationale, ReasonScoreMajor)
		trace(ReasonScoreMajor, true, "mean %.2f within %.2f of threshold %.2f", agg.MeanOverall, policy.MajorRevisionBand, policy.AcceptScoreThreshold)
	default:
		outcome = models.OutcomeReject
		res.Rationale = append(res.Rationale, ReasonScoreFarBelow)
		trace(ReasonScoreFarBelow, true, "mean %.2f more than %.2f below threshold %.2f", agg.MeanOverall, policy.MajorRevisionBand, policy.AcceptScoreThreshold)
	}

	forcedReject, hold := integrityImpact(findings, meta)
	trace(ReasonIntegrityReject, forcedReject, "unresolved plagiarism or citation ring finding implicates the scroll")
	trace(ReasonIntegrityHold, hold, "unresolved high-severity finding implicates the scroll")

	switch {
	case forcedReject:
		if outcome != models.OutcomeReject {
			res.IntegrityAdjusted = true
		}
		outcome = models.OutcomeReject
		res.Rationale = append(res.Rationale, ReasonIntegrityReject)
	case hold && outcome == models.OutcomeAccept:
		res.IntegrityAdjusted = true
		outcome = models.OutcomeMajorRevision
		res.Rationale = append(res.Rationale, ReasonIntegrityHold)
	}

	// Revisionen oberhalb des Rundenlimits werden endgültig abgelehnt.
	if outcome == models.OutcomeMinorRevision || outcome == models.OutcomeMajorRevision {
		exceeded := meta.Round+1 >= policy.MaxRevisionRounds
		trace(ReasonRoundLimitExceeded, exceeded, "round %d of at most %d", meta.Round+1, policy.MaxRevisionRounds)
		if exceeded {
			outcome = models.OutcomeReject
			res.Rationale = append(res.Rationale, ReasonRoundLimitExceeded)
		}
	}

	res.Outcome = outcome
	return res
}

// integrityImpact prüft, ob ungelöste Findings den Scroll oder seine
// Autoren betreffen. Plagiat und Citation-Ring erzwingen ein Reject,
// andere Findings ab Severity High nur einen Hold.
func integrityImpact(findings []models.IntegrityFinding, meta ScrollMeta) (forcedReject, hold bool) {
	authors := make(map[string]bool, len(meta.Authors))
	for _, a := range meta.Authors {
		authors[a] = true
	}
	for i := range findings {
		f := &findings[i]
		if f.Resolved || !implicates(f, meta, authors) {
			continue
		}
		switch f.Kind {
		case models.FindingPlagiarism, models.FindingCitationRing:
			forcedReject = true
		default:
			if f.Severity >= models.SeverityHigh {
				hold = true
			}
		}
	}
	return forcedReject, hold
}

func implicates(f *models.IntegrityFinding, meta ScrollMeta, authors map[string]bool) bool {
	if f.ScrollID != "" && (f.ScrollID == meta.WorkingID || f.ScrollID == meta.PublicID) {
		return true
	}
	for _, agent := range f.AgentList() {
		if authors[agent] {
			return true
		}
	}
	return false
}
