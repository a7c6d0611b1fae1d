package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DanielFluxman/Alexandria2/models"
)

func reviewInput(scrollID, reviewerID string, overall float64) ReviewInput {
	return ReviewInput{
		ScrollID:       scrollID,
		ReviewerID:     reviewerID,
		Originality:    overall,
		Methodology:    overall,
		Significance:   overall,
		Clarity:        overall,
		Overall:        overall,
		Recommendation: models.RecommendAccept,
		Confidence:     0.5,
	}
}

func TestAuthorCannotReviewOwnScroll(t *testing.T) {
	env := newTestEnv(t)
	scroll := env.submitScroll(t, "alice", nil)

	_, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "alice", 9))
	if !errors.Is(err, ErrConflictOfInterest) {
		t.Fatalf("err = %v, want ErrConflictOfInterest", err)
	}
}

func TestDeclaredPeerCannotReview(t *testing.T) {
	env := newTestEnv(t)
	// bob hat alice als COI-Partner deklariert.
	env.addScholar(t, "bob", "", "alice")
	scroll := env.submitScroll(t, "alice", nil)

	_, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "bob", 7))
	if !errors.Is(err, ErrConflictOfInterest) {
		t.Fatalf("err = %v, want ErrConflictOfInterest", err)
	}
}

func TestAuthorDeclaredPeerCannotReview(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "carol", "")
	// alice deklariert carol als COI-Partner, nicht umgekehrt.
	env.addScholar(t, "alice", "", "carol")

	scroll := env.submitScroll(t, "alice", nil)

	_, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "carol", 7))
	if !errors.Is(err, ErrConflictOfInterest) {
		t.Fatalf("err = %v, want ErrConflictOfInterest", err)
	}
}

func TestDuplicateReviewRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	scroll := env.submitScroll(t, "alice", nil)

	if _, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "rev-1", 7)); err != nil {
		t.Fatalf("first review: %v", err)
	}
	_, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "rev-1", 8))
	if !errors.Is(err, ErrDuplicateReview) {
		t.Fatalf("err = %v, want ErrDuplicateReview", err)
	}
}

func TestSuspendedReviewerRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.db.Create(&models.Sanction{
		SanctionID: "sanction-rev",
		ScholarID:  "rev-1",
		Kind:       models.SanctionReviewSuspension,
	})
	scroll := env.submitScroll(t, "alice", nil)

	_, _, err := env.lifecycle.SubmitReview(context.Background(), "",
		reviewInput(scroll.WorkingID, "rev-1", 7))
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	scroll := env.submitScroll(t, "alice", nil)

	in := reviewInput(scroll.WorkingID, "rev-1", 7)
	in.Overall = 11
	if _, _, err := env.lifecycle.SubmitReview(context.Background(), "", in); !errors.Is(err, ErrValidation) {
		t.Fatalf("out-of-range score: err = %v, want ErrValidation", err)
	}

	in = reviewInput(scroll.WorkingID, "rev-1", 7)
	in.Recommendation = "publish_immediately"
	if _, _, err := env.lifecycle.SubmitReview(context.Background(), "", in); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown recommendation: err = %v, want ErrValidation", err)
	}
}

func TestHighImpactDomainNeedsLargerQuorum(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-1", "")
	env.addScholar(t, "rev-2", "")
	env.addScholar(t, "rev-3", "")

	scroll := env.submitScroll(t, "alice", func(s *Submission) {
		s.Domain = "ai-safety"
	})

	env.review(t, scroll.WorkingID, "rev-1", 7, models.RecommendAccept, 0.5)
	_, decision := env.review(t, scroll.WorkingID, "rev-2", 8, models.RecommendAccept, 0.5)
	if decision != nil {
		t.Fatal("two reviews must not reach the high-impact quorum of three")
	}

	_, decision = env.review(t, scroll.WorkingID, "rev-3", 7, models.RecommendAccept, 0.5)
	if decision == nil {
		t.Fatal("third review should complete the quorum")
	}
}

func TestAggregateOrderIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	env.addScholar(t, "rev-a", "")
	env.addScholar(t, "rev-b", "")
	env.addScholar(t, "rev-c", "")

	scroll := env.submitScroll(t, "alice", func(s *Submission) {
		s.Domain = "ai-theory"
	})
	env.review(t, scroll.WorkingID, "rev-b", 6, models.RecommendAccept, 0.5)
	env.review(t, scroll.WorkingID, "rev-a", 7, models.RecommendAccept, 0.5)

	agg, err := env.reviews.Aggregate(scroll.WorkingID, 0)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 2 {
		t.Fatalf("count = %d, want 2", agg.Count)
	}
	if agg.MeanOverall != 6.5 {
		t.Fatalf("mean = %f, want 6.5", agg.MeanOverall)
	}

	again, err := env.reviews.Aggregate(scroll.WorkingID, 0)
	if err != nil {
		t.Fatalf("aggregate again: %v", err)
	}
	for i := range agg.Reviewers {
		if agg.Reviewers[i] != again.Reviewers[i] {
			t.Fatalf("reviewer order differs between aggregations: %v vs %v",
				agg.Reviewers, again.Reviewers)
		}
	}
}
