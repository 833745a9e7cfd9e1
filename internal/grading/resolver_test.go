package grading_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
)

func TestLatestAttemptRevokesEarlierAcceptance(t *testing.T) {
	attempts := []domain.Attempt{
		{QuestionID: "b1", Attempt: 1, Accepted: true},
		{QuestionID: "b1", Attempt: 2, Accepted: false},
		{QuestionID: "a1", Attempt: 3, Accepted: true},
		{QuestionID: "a1", Attempt: 1, Accepted: false},
	}

	got := grading.Resolve(grading.PolicyLatest, attempts)
	want := []domain.QuestionOutcome{
		{QuestionID: "a1", Accepted: true},
		{QuestionID: "b1", Accepted: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	g := mustGrader(t, pairsArrangement())
	if res := g.Evaluate(got); res.GroupResults["B"].Completed {
		t.Fatalf("expected b1 unsolved after failing latest attempt")
	}
}

func TestLatestAttemptTieBreaks(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	attempts := []domain.Attempt{
		{QuestionID: "q1", Attempt: 2, Accepted: true, SubmittedAt: t0.Add(time.Minute)},
		{QuestionID: "q1", Attempt: 2, Accepted: false, SubmittedAt: t0},
		{QuestionID: "q2", Attempt: 1, Accepted: false},
		{QuestionID: "q2", Attempt: 1, Accepted: true},
	}

	got := grading.Resolve(grading.PolicyLatest, attempts)
	if !got[0].Accepted {
		t.Fatalf("expected later submission to win the tie for q1")
	}
	if !got[1].Accepted {
		t.Fatalf("expected later entry to win the tie for q2")
	}
}

func TestBestPolicyKeepsAnyAcceptance(t *testing.T) {
	attempts := []domain.Attempt{
		{QuestionID: "b1", Attempt: 1, Accepted: true},
		{QuestionID: "b1", Attempt: 2, Accepted: false},
		{QuestionID: "c1", Attempt: 1, Accepted: false},
	}

	got := grading.Resolve(grading.PolicyBest, attempts)
	want := []domain.QuestionOutcome{
		{QuestionID: "b1", Accepted: true},
		{QuestionID: "c1", Accepted: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]grading.Policy{"": grading.PolicyLatest, "latest": grading.PolicyLatest, "best": grading.PolicyBest} {
		got, err := grading.ParsePolicy(name)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q, %v", name, got, err)
		}
	}
	if _, err := grading.ParsePolicy("first"); !errors.Is(err, domain.ErrUnknownPolicy) {
		t.Fatalf("expected unknown policy error, got %v", err)
	}
}
