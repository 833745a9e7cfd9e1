package grading

import (
	"fmt"
	"sort"

	"arrangement-grading-service/internal/domain"
)

// Policy selects how a submission history collapses into one outcome per question.
type Policy string

const (
	// PolicyLatest uses the most recent attempt only; a later failure revokes an
	// earlier acceptance.
	PolicyLatest Policy = "latest"
	// PolicyBest counts a question as solved if any attempt was accepted.
	PolicyBest Policy = "best"
)

// ParsePolicy maps a configured name to a Policy. Empty selects PolicyLatest.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "", PolicyLatest:
		return PolicyLatest, nil
	case PolicyBest:
		return PolicyBest, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, name)
}

// Resolve returns at most one outcome per question, sorted by question id.
func Resolve(policy Policy, attempts []domain.Attempt) []domain.QuestionOutcome {
	if policy == PolicyBest {
		return resolveBest(attempts)
	}
	return resolveLatest(attempts)
}

func resolveLatest(attempts []domain.Attempt) []domain.QuestionOutcome {
	latest := make(map[string]domain.Attempt, len(attempts))
	for _, a := range attempts {
		cur, ok := latest[a.QuestionID]
		// ties go to the later submission, then to the later position in the slice
		if !ok || a.Attempt > cur.Attempt ||
			(a.Attempt == cur.Attempt && !a.SubmittedAt.Before(cur.SubmittedAt)) {
			latest[a.QuestionID] = a
		}
	}
	out := make([]domain.QuestionOutcome, 0, len(latest))
	for id, a := range latest {
		out = append(out, domain.QuestionOutcome{QuestionID: id, Accepted: a.Accepted})
	}
	sortOutcomes(out)
	return out
}

func resolveBest(attempts []domain.Attempt) []domain.QuestionOutcome {
	best := make(map[string]bool, len(attempts))
	for _, a := range attempts {
		best[a.QuestionID] = best[a.QuestionID] || a.Accepted
	}
	out := make([]domain.QuestionOutcome, 0, len(best))
	for id, ok := range best {
		out = append(out, domain.QuestionOutcome{QuestionID: id, Accepted: ok})
	}
	sortOutcomes(out)
	return out
}

func sortOutcomes(out []domain.QuestionOutcome) {
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
}
