package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
	"github.com/google/uuid"
)

// DefaultEventQueue receives GradeEvents when no queue is configured.
const DefaultEventQueue = "grading.grade_changed"

// ArrangementRepository loads and stores arrangement definitions (cache + backing store).
type ArrangementRepository interface {
	GetArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error)
	SaveArrangement(ctx context.Context, a domain.QuestionArrangement) error
}

// ProgressRepository abstracts where live progress entries are kept (in-memory, Redis, etc).
// Acquire and Release must change the viewer count and the entry's presence atomically.
type ProgressRepository interface {
	// Acquire returns the entry for key, creating it if needed, with one viewer added.
	Acquire(key ProgressKey) *Progress
	Get(key ProgressKey) (*Progress, bool)
	// Touch marks the entry as still active.
	Touch(key ProgressKey)
	// Release removes one viewer and drops the entry when none remain.
	Release(key ProgressKey)
}

// EventPublisher delivers serialized events to a named queue.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// GradingService contains the grading use cases around the pure engine.
type GradingService struct {
	arrangements ArrangementRepository
	progress     ProgressRepository
	policy       grading.Policy
	events       EventPublisher
	eventQueue   string
	newID        func() string
}

type Option func(*GradingService)

// WithPolicy sets the submission resolution policy used for attempt histories.
func WithPolicy(p grading.Policy) Option { return func(s *GradingService) { s.policy = p } }

// WithEventPublisher enables GradeEvent publishing to queue.
func WithEventPublisher(pub EventPublisher, queue string) Option {
	return func(s *GradingService) {
		s.events = pub
		if queue != "" {
			s.eventQueue = queue
		}
	}
}

// WithIDGenerator overrides how ids are assigned to new arrangements.
func WithIDGenerator(gen func() string) Option { return func(s *GradingService) { s.newID = gen } }

func NewGradingService(arrangements ArrangementRepository, progress ProgressRepository, opts ...Option) *GradingService {
	s := &GradingService{
		arrangements: arrangements,
		progress:     progress,
		policy:       grading.PolicyLatest,
		eventQueue:   DefaultEventQueue,
		newID:        uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy reports the resolution policy in use.
func (s *GradingService) Policy() grading.Policy { return s.policy }

// ValidateArrangement checks a definition without storing it.
func (s *GradingService) ValidateArrangement(def domain.QuestionArrangement) error {
	return domain.ValidateArrangement(def)
}

// SaveArrangement validates and stores def, assigning an id when it has none.
func (s *GradingService) SaveArrangement(ctx context.Context, def domain.QuestionArrangement) (domain.QuestionArrangement, error) {
	if def.ID == "" {
		def.ID = s.newID()
	}
	if err := domain.ValidateArrangement(def); err != nil {
		return domain.QuestionArrangement{}, err
	}
	if err := s.arrangements.SaveArrangement(ctx, def); err != nil {
		return domain.QuestionArrangement{}, fmt.Errorf("save arrangement %s: %w", def.ID, err)
	}
	slog.Info("arrangement saved", "arrangement_id", def.ID, "groups", len(def.Groups))
	return def, nil
}

func (s *GradingService) GetArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error) {
	return s.arrangements.GetArrangement(ctx, id)
}

// Evaluate grades already-resolved outcomes against a stored arrangement.
func (s *GradingService) Evaluate(ctx context.Context, arrangementID string, outcomes []domain.QuestionOutcome) (domain.ArrangementResult, error) {
	g, err := s.grader(ctx, arrangementID)
	if err != nil {
		return domain.ArrangementResult{}, err
	}
	return g.Evaluate(outcomes), nil
}

// EvaluateAttempts resolves a raw attempt history with the configured policy and grades it.
func (s *GradingService) EvaluateAttempts(ctx context.Context, arrangementID string, attempts []domain.Attempt) (domain.ArrangementResult, error) {
	outcomes, err := s.Resolve(attempts)
	if err != nil {
		return domain.ArrangementResult{}, err
	}
	return s.Evaluate(ctx, arrangementID, outcomes)
}

// EvaluateDefinition grades outcomes against an arrangement that is not stored.
func (s *GradingService) EvaluateDefinition(def domain.QuestionArrangement, outcomes []domain.QuestionOutcome) (domain.ArrangementResult, error) {
	return grading.Evaluate(def, outcomes)
}

// Resolve checks an attempt history and collapses it with the configured policy.
func (s *GradingService) Resolve(attempts []domain.Attempt) ([]domain.QuestionOutcome, error) {
	if err := domain.ValidateAttempts(attempts); err != nil {
		return nil, err
	}
	return grading.Resolve(s.policy, attempts), nil
}

// Join registers a live viewer for a student's progress and returns the current result.
func (s *GradingService) Join(ctx context.Context, arrangementID, studentID string) (domain.ProgressUpdate, error) {
	// Unknown or invalid arrangements cannot be joined.
	g, err := s.grader(ctx, arrangementID)
	if err != nil {
		return domain.ProgressUpdate{}, err
	}
	p := s.progress.Acquire(ProgressKey{ArrangementID: arrangementID, StudentID: studentID})
	return p.refresh(g, s.policy), nil
}

// RecordAttempts appends attempts to a joined student's history and re-grades it
// against the arrangement as currently stored.
func (s *GradingService) RecordAttempts(ctx context.Context, arrangementID, studentID string, attempts []domain.Attempt) (domain.ProgressUpdate, error) {
	if err := domain.ValidateAttempts(attempts); err != nil {
		return domain.ProgressUpdate{}, err
	}
	key := ProgressKey{ArrangementID: arrangementID, StudentID: studentID}
	p, ok := s.progress.Get(key)
	if !ok {
		return domain.ProgressUpdate{}, domain.ErrProgressNotFound
	}
	s.progress.Touch(key)
	g, err := s.grader(ctx, arrangementID)
	if err != nil {
		return domain.ProgressUpdate{}, err
	}

	update, changed := p.record(attempts, g, s.policy)
	if changed {
		s.publishGradeChange(ctx, update)
	}
	return update, nil
}

// Subscribe returns a channel that receives progress updates for a student.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *GradingService) Subscribe(_ context.Context, arrangementID, studentID string) (<-chan domain.ProgressUpdate, func(), error) {
	p, ok := s.progress.Get(ProgressKey{ArrangementID: arrangementID, StudentID: studentID})
	if !ok {
		return nil, nil, domain.ErrProgressNotFound
	}
	ch, cancel := p.subscribe()
	return ch, cancel, nil
}

// Leave removes a viewer and drops the progress entry once nobody watches it.
func (s *GradingService) Leave(_ context.Context, arrangementID, studentID string) {
	s.progress.Release(ProgressKey{ArrangementID: arrangementID, StudentID: studentID})
}

func (s *GradingService) grader(ctx context.Context, arrangementID string) (*grading.Grader, error) {
	def, err := s.arrangements.GetArrangement(ctx, arrangementID)
	if err != nil {
		return nil, err
	}
	return grading.NewGrader(def)
}

func (s *GradingService) publishGradeChange(ctx context.Context, update domain.ProgressUpdate) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(domain.GradeEvent{
		ArrangementID:   update.ArrangementID,
		StudentID:       update.StudentID,
		FinalGrade:      update.Result.FinalGrade,
		RequirementsMet: update.Result.RequirementsMet,
		Passed:          update.Result.Passed,
		EvaluatedAt:     update.UpdatedAt,
	})
	if err != nil {
		slog.Error("encode grade event", "error", err)
		return
	}
	if err := s.events.Publish(ctx, s.eventQueue, body); err != nil {
		slog.Warn("publish grade event failed",
			"error", err,
			"queue", s.eventQueue,
			"arrangement_id", update.ArrangementID,
			"student_id", update.StudentID,
		)
	}
}
