package domain

import "time"

// QuestionGroup is a named subset of a list's questions sharing a solve threshold.
type QuestionGroup struct {
	ID                string   `json:"id" yaml:"id" validate:"required"`
	Name              string   `json:"name" yaml:"name"`
	QuestionIDs       []string `json:"questionIds" yaml:"questionIds" validate:"required,min=1,unique,dive,required"`
	MinRequired       int      `json:"minRequired" yaml:"minRequired" validate:"gte=1"`
	PointsPerQuestion float64  `json:"pointsPerQuestion" yaml:"pointsPerQuestion" validate:"gte=0"`
}

// QuestionArrangement is a grading rule combining grouped questions, per-group
// thresholds and a pass formula.
type QuestionArrangement struct {
	ID               string          `json:"id" yaml:"id" validate:"required"`
	Name             string          `json:"name" yaml:"name"`
	Description      string          `json:"description" yaml:"description"`
	Groups           []QuestionGroup `json:"groups" yaml:"groups" validate:"required,min=1,dive"`
	RequireAllGroups bool            `json:"requireAllGroups" yaml:"requireAllGroups"`
	Formula          *Formula        `json:"formula" yaml:"formula"`
	MaxScore         float64         `json:"maxScore" yaml:"maxScore" validate:"gt=0"`
	PassingScore     float64         `json:"passingScore" yaml:"passingScore" validate:"gte=0,ltefield=MaxScore"`
}

// Group returns the group with the given id.
func (a QuestionArrangement) Group(id string) (QuestionGroup, bool) {
	for _, g := range a.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return QuestionGroup{}, false
}

// Clone returns a deep copy so callers can hold an arrangement without sharing slices.
func (a QuestionArrangement) Clone() QuestionArrangement {
	out := a
	out.Groups = make([]QuestionGroup, len(a.Groups))
	for i, g := range a.Groups {
		g.QuestionIDs = append([]string(nil), g.QuestionIDs...)
		out.Groups[i] = g
	}
	out.Formula = a.Formula.Clone()
	return out
}

// QuestionOutcome is the resolved accepted/not-accepted state of one question.
// PointsAwarded is carried for display only; grading recomputes points per group.
type QuestionOutcome struct {
	QuestionID    string  `json:"questionId" yaml:"questionId"`
	Accepted      bool    `json:"accepted" yaml:"accepted"`
	PointsAwarded float64 `json:"pointsAwarded,omitempty" yaml:"pointsAwarded,omitempty"`
}

// Attempt is one entry of a student's submission history. Higher Attempt numbers are newer.
type Attempt struct {
	QuestionID  string    `json:"questionId" yaml:"questionId"`
	Attempt     int       `json:"attempt" yaml:"attempt"`
	Accepted    bool      `json:"accepted" yaml:"accepted"`
	SubmittedAt time.Time `json:"submittedAt,omitempty" yaml:"submittedAt,omitempty"`
}

// GroupResult is the per-group outcome of one evaluation.
type GroupResult struct {
	GroupID           string   `json:"groupId"`
	SolvedQuestionIDs []string `json:"solvedQuestionIds"`
	PointsEarned      float64  `json:"pointsEarned"`
	Completed         bool     `json:"completed"`
}

// ArrangementResult is the structured grade for one student against one arrangement.
type ArrangementResult struct {
	GroupResults    map[string]GroupResult `json:"groupResults"`
	RequirementsMet bool                   `json:"requirementsMet"`
	TotalPoints     float64                `json:"totalPoints"`
	FinalGrade      float64                `json:"finalGrade"`
	Passed          bool                   `json:"passed"`
}

// ProgressUpdate is pushed to live viewers whenever a student's result is recomputed.
type ProgressUpdate struct {
	ArrangementID string            `json:"arrangementId"`
	StudentID     string            `json:"studentId"`
	Attempts      int               `json:"attempts"`
	Result        ArrangementResult `json:"result"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// GradeEvent is published when a live evaluation changes a student's grade summary.
type GradeEvent struct {
	ArrangementID   string    `json:"arrangementId"`
	StudentID       string    `json:"studentId"`
	FinalGrade      float64   `json:"finalGrade"`
	RequirementsMet bool      `json:"requirementsMet"`
	Passed          bool      `json:"passed"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}
