// Package grading evaluates question arrangements against resolved outcomes.
// Everything here is a pure function of its inputs.
package grading

import (
	"math"

	"arrangement-grading-service/internal/domain"
)

// Grader is a validated, immutable arrangement ready for evaluation.
// It is safe for concurrent use.
type Grader struct {
	def domain.QuestionArrangement
}

// NewGrader validates def and returns a Grader holding a private copy of it.
func NewGrader(def domain.QuestionArrangement) (*Grader, error) {
	if err := domain.ValidateArrangement(def); err != nil {
		return nil, err
	}
	return &Grader{def: def.Clone()}, nil
}

// Arrangement returns a copy of the definition the grader was built from.
func (g *Grader) Arrangement() domain.QuestionArrangement {
	return g.def.Clone()
}

// Evaluate computes the structured grade for one student's outcomes. Outcomes for
// questions outside every group are ignored; when a question appears more than
// once the later entry wins.
func (g *Grader) Evaluate(outcomes []domain.QuestionOutcome) domain.ArrangementResult {
	accepted := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		accepted[o.QuestionID] = o.Accepted
	}

	groups := evaluateGroups(g.def.Groups, accepted)
	met := requirementsMet(g.def, groups)

	total := 0.0
	for _, grp := range g.def.Groups {
		total += groups[grp.ID].PointsEarned
	}
	final := math.Min(total, g.def.MaxScore)

	return domain.ArrangementResult{
		GroupResults:    groups,
		RequirementsMet: met,
		TotalPoints:     total,
		FinalGrade:      final,
		Passed:          met && final >= g.def.PassingScore,
	}
}

// Evaluate validates def and evaluates outcomes against it in one step.
func Evaluate(def domain.QuestionArrangement, outcomes []domain.QuestionOutcome) (domain.ArrangementResult, error) {
	g, err := NewGrader(def)
	if err != nil {
		return domain.ArrangementResult{}, err
	}
	return g.Evaluate(outcomes), nil
}

func evaluateGroups(groups []domain.QuestionGroup, accepted map[string]bool) map[string]domain.GroupResult {
	results := make(map[string]domain.GroupResult, len(groups))
	for _, grp := range groups {
		solved := make([]string, 0, len(grp.QuestionIDs))
		for _, q := range grp.QuestionIDs {
			if accepted[q] {
				solved = append(solved, q)
			}
		}
		results[grp.ID] = domain.GroupResult{
			GroupID:           grp.ID,
			SolvedQuestionIDs: solved,
			PointsEarned:      float64(len(solved)) * grp.PointsPerQuestion,
			Completed:         len(solved) >= grp.MinRequired,
		}
	}
	return results
}

func requirementsMet(def domain.QuestionArrangement, groups map[string]domain.GroupResult) bool {
	if def.RequireAllGroups {
		// validation guarantees at least one group
		for _, grp := range def.Groups {
			if !groups[grp.ID].Completed {
				return false
			}
		}
		return true
	}
	return evalFormula(def.Formula, groups)
}

func evalFormula(f *domain.Formula, groups map[string]domain.GroupResult) bool {
	switch f.Type {
	case domain.FormulaGroup:
		return groups[f.GroupID].Completed
	case domain.FormulaAnd:
		return evalFormula(f.Left, groups) && evalFormula(f.Right, groups)
	case domain.FormulaOr:
		return evalFormula(f.Left, groups) || evalFormula(f.Right, groups)
	}
	return false
}
