package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"arrangement-grading-service/internal/app"
	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
	"arrangement-grading-service/internal/infra/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
	events []domain.GradeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var ev domain.GradeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	p.queues = append(p.queues, queue)
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newService(t *testing.T, opts ...app.Option) (*app.GradingService, *memory.StaticArrangementStore) {
	t.Helper()
	store := memory.NewStaticArrangementStore(map[string]domain.QuestionArrangement{
		"list-1": sampleArrangement(),
	})
	// no caching so arrangement edits are visible immediately
	repo := memory.NewArrangementRepository(store, 0)
	return app.NewGradingService(repo, memory.NewProgressStore(), opts...), store
}

func TestJoinAndRecordAttempts(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	joined, err := service.Join(ctx, "list-1", "s1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Result.RequirementsMet || joined.Attempts != 0 {
		t.Fatalf("expected empty progress on join, got %+v", joined)
	}

	update, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{
		{QuestionID: "a1", Accepted: true},
		{QuestionID: "d2", Accepted: true},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !update.Result.Passed || update.Result.FinalGrade != 4 || update.Attempts != 2 {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestRecordAttemptsNumbersAndRevokes(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	for _, accepted := range []bool{true, true} {
		if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: accepted}}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "c1", Accepted: true}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// third attempt on a1 fails and, under the latest policy, revokes it
	update, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: false}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if update.Result.GroupResults["A"].Completed || update.Result.RequirementsMet {
		t.Fatalf("expected a1 revoked, got %+v", update.Result)
	}
}

func TestBestPolicyKeepsEarlierAcceptance(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t, app.WithPolicy(grading.PolicyBest))
	if service.Policy() != grading.PolicyBest {
		t.Fatalf("expected best policy")
	}

	res, err := service.EvaluateAttempts(ctx, "list-1", []domain.Attempt{
		{QuestionID: "b1", Attempt: 1, Accepted: true},
		{QuestionID: "b1", Attempt: 2, Accepted: false},
		{QuestionID: "c1", Attempt: 1, Accepted: true},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass under best policy, got %+v", res)
	}
}

func TestRecordAttemptsErrors(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	if _, err := service.RecordAttempts(ctx, "list-1", "ghost", []domain.Attempt{{QuestionID: "a1"}}); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
	if _, err := service.Join(ctx, "missing", "s1"); !errors.Is(err, domain.ErrArrangementNotFound) {
		t.Fatalf("expected ErrArrangementNotFound, got %v", err)
	}
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: ""}}); !errors.Is(err, domain.ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt, got %v", err)
	}
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Attempt: -1}}); !errors.Is(err, domain.ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt for negative attempt, got %v", err)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	updates, cancel, err := service.Subscribe(ctx, "list-1", "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-updates
	if initial.Attempts != 0 {
		t.Fatalf("expected initial snapshot, got %+v", initial)
	}

	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "b1", Accepted: true}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case update := <-updates:
		if update.Attempts != 1 || !update.Result.GroupResults["B"].Completed {
			t.Fatalf("unexpected update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected progress update")
	}
}

func TestLeaveDropsProgress(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)
	for i := 0; i < 2; i++ {
		if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: true}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	service.Leave(ctx, "list-1", "s1")
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "c1", Accepted: true}}); err != nil {
		t.Fatalf("expected progress kept while a viewer remains: %v", err)
	}

	service.Leave(ctx, "list-1", "s1")
	if _, _, err := service.Subscribe(ctx, "list-1", "s1"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected progress dropped after last viewer left, got %v", err)
	}
}

func TestGradeEventsOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	service, _ := newService(t, app.WithEventPublisher(pub, "grades"))
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	record := func(q string, accepted bool) {
		t.Helper()
		if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: q, Accepted: accepted}}); err != nil {
			t.Fatalf("record %s: %v", q, err)
		}
	}

	record("a1", true) // 2 points, grade changes
	record("a2", true) // 4 points, grade changes
	record("b1", false)
	if pub.count() != 2 {
		t.Fatalf("expected 2 events, got %d", pub.count())
	}
	record("c1", true) // requirements met, passed
	if pub.count() != 3 {
		t.Fatalf("expected 3 events, got %d", pub.count())
	}
	last := pub.events[2]
	if pub.queues[2] != "grades" || !last.Passed || last.StudentID != "s1" || last.FinalGrade != 6 {
		t.Fatalf("unexpected event %+v on %s", last, pub.queues[2])
	}
}

func TestPublishFailureDoesNotFailRecording(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	service, _ := newService(t, app.WithEventPublisher(pub, ""))
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: true}}); err != nil {
		t.Fatalf("expected recording to succeed, got %v", err)
	}
}

func TestArrangementEditsApplyToLiveProgress(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	update, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{
		{QuestionID: "a1", Accepted: true},
		{QuestionID: "c1", Accepted: true},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !update.Result.Passed {
		t.Fatalf("expected pass before edit")
	}

	edited := sampleArrangement()
	edited.Groups[0].MinRequired = 2
	edited.PassingScore = 6
	if _, err := service.SaveArrangement(ctx, edited); err != nil {
		t.Fatalf("save: %v", err)
	}

	update, err = service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "d1", Accepted: false}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if update.Result.GroupResults["A"].Completed || update.Result.Passed {
		t.Fatalf("expected edited thresholds to apply, got %+v", update.Result)
	}
}

func TestSaveArrangementAssignsID(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t, app.WithIDGenerator(func() string { return "generated" }))

	def := sampleArrangement()
	def.ID = ""
	saved, err := service.SaveArrangement(ctx, def)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != "generated" {
		t.Fatalf("expected generated id, got %q", saved.ID)
	}
	if _, err := service.GetArrangement(ctx, "generated"); err != nil {
		t.Fatalf("get: %v", err)
	}

	bad := sampleArrangement()
	bad.Groups[1].QuestionIDs = []string{"a1"}
	if _, err := service.SaveArrangement(ctx, bad); !errors.Is(err, domain.ErrInvalidArrangement) {
		t.Fatalf("expected invalid arrangement, got %v", err)
	}
}

func TestEvaluateDefinitionAndResolve(t *testing.T) {
	service, _ := newService(t)

	outcomes, err := service.Resolve([]domain.Attempt{
		{QuestionID: "d1", Attempt: 2, Accepted: true},
		{QuestionID: "b1", Attempt: 1, Accepted: true},
		{QuestionID: "d1", Attempt: 1, Accepted: false},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].QuestionID != "b1" || !outcomes[1].Accepted {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}

	res, err := service.EvaluateDefinition(sampleArrangement(), outcomes)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}

	if err := service.ValidateArrangement(domain.QuestionArrangement{}); !errors.Is(err, domain.ErrInvalidArrangement) {
		t.Fatalf("expected invalid arrangement, got %v", err)
	}
}

func sampleArrangement() domain.QuestionArrangement {
	return domain.QuestionArrangement{
		ID: "list-1",
		Groups: []domain.QuestionGroup{
			{ID: "A", QuestionIDs: []string{"a1", "a2"}, MinRequired: 1, PointsPerQuestion: 2},
			{ID: "B", QuestionIDs: []string{"b1"}, MinRequired: 1, PointsPerQuestion: 2},
			{ID: "C", QuestionIDs: []string{"c1"}, MinRequired: 1, PointsPerQuestion: 2},
			{ID: "D", QuestionIDs: []string{"d1", "d2"}, MinRequired: 1, PointsPerQuestion: 2},
		},
		Formula: domain.And(
			domain.Or(domain.GroupRef("A"), domain.GroupRef("B")),
			domain.Or(domain.GroupRef("C"), domain.GroupRef("D")),
		),
		MaxScore:     6,
		PassingScore: 4,
	}
}

// departingViewerStore lets the previous viewer leave right as a new one is acquired.
type departingViewerStore struct {
	app.ProgressRepository
	beforeAcquire func()
}

func (s *departingViewerStore) Acquire(key app.ProgressKey) *app.Progress {
	if s.beforeAcquire != nil {
		hook := s.beforeAcquire
		s.beforeAcquire = nil
		hook()
	}
	return s.ProgressRepository.Acquire(key)
}

func TestJoinWhileLastViewerLeavesKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStaticArrangementStore(map[string]domain.QuestionArrangement{"list-1": sampleArrangement()})
	progress := &departingViewerStore{ProgressRepository: memory.NewProgressStore()}
	service := app.NewGradingService(memory.NewArrangementRepository(store, time.Minute), progress)

	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("first tab join: %v", err)
	}
	progress.beforeAcquire = func() { service.Leave(ctx, "list-1", "s1") }
	if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
		t.Fatalf("second tab join: %v", err)
	}

	_, cancel, err := service.Subscribe(ctx, "list-1", "s1")
	if err != nil {
		t.Fatalf("subscribe after handover: %v", err)
	}
	defer cancel()
	if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: true}}); err != nil {
		t.Fatalf("record after handover: %v", err)
	}
}

func TestConcurrentJoinAndLeave(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	for i := 0; i < 100; i++ {
		if _, err := service.Join(ctx, "list-1", "s1"); err != nil {
			t.Fatalf("join: %v", err)
		}
		var wg sync.WaitGroup
		var joinErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			service.Leave(ctx, "list-1", "s1")
		}()
		go func() {
			defer wg.Done()
			_, joinErr = service.Join(ctx, "list-1", "s1")
		}()
		wg.Wait()
		if joinErr != nil {
			t.Fatalf("iteration %d: join: %v", i, joinErr)
		}
		if _, err := service.RecordAttempts(ctx, "list-1", "s1", []domain.Attempt{{QuestionID: "a1", Accepted: true}}); err != nil {
			t.Fatalf("iteration %d: record: %v", i, err)
		}
		service.Leave(ctx, "list-1", "s1")
	}
}

func TestEvaluateAttemptsRejectsMalformedHistory(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	bad := [][]domain.Attempt{
		{{QuestionID: "a1", Attempt: -1, Accepted: true}},
		{{QuestionID: "", Attempt: 1, Accepted: true}},
	}
	for _, attempts := range bad {
		if _, err := service.EvaluateAttempts(ctx, "list-1", attempts); !errors.Is(err, domain.ErrInvalidAttempt) {
			t.Fatalf("evaluate %+v: expected ErrInvalidAttempt, got %v", attempts, err)
		}
		if _, err := service.Resolve(attempts); !errors.Is(err, domain.ErrInvalidAttempt) {
			t.Fatalf("resolve %+v: expected ErrInvalidAttempt, got %v", attempts, err)
		}
	}
}
