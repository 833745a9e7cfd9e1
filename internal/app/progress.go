package app

import (
	"sync"
	"time"

	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
)

// ProgressKey identifies one student's live progress on one arrangement.
type ProgressKey struct {
	ArrangementID string
	StudentID     string
}

func (k ProgressKey) String() string {
	return k.ArrangementID + ":" + k.StudentID
}

// Progress holds a student's attempt history for live re-grading. The result is
// recomputed from the full history on every change and never cached across
// arrangement edits.
type Progress struct {
	key         ProgressKey
	now         func() time.Time
	mu          sync.RWMutex
	viewers     int
	attempts    []domain.Attempt
	result      domain.ArrangementResult
	updatedAt   time.Time
	subscribers map[chan domain.ProgressUpdate]struct{}
}

// NewProgress is exported for infrastructure layers that need to seed entries.
func NewProgress(key ProgressKey) *Progress {
	return NewProgressWithClock(key, time.Now)
}

// NewProgressWithClock is test-only for deterministic timestamps.
func NewProgressWithClock(key ProgressKey, now func() time.Time) *Progress {
	return &Progress{
		key:         key,
		now:         now,
		subscribers: make(map[chan domain.ProgressUpdate]struct{}),
	}
}

// refresh re-grades the history against g and pushes the result to subscribers.
func (p *Progress) refresh(g *grading.Grader, policy grading.Policy) domain.ProgressUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.regradeLocked(g, policy)
	return p.broadcastLocked()
}

// record appends attempts and reports whether the grade summary changed.
func (p *Progress) record(attempts []domain.Attempt, g *grading.Grader, policy grading.Policy) (domain.ProgressUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, a := range attempts {
		if a.Attempt == 0 {
			a.Attempt = p.nextAttemptLocked(a.QuestionID)
		}
		if a.SubmittedAt.IsZero() {
			a.SubmittedAt = now
		}
		p.attempts = append(p.attempts, a)
	}

	prev := p.result
	p.regradeLocked(g, policy)
	changed := prev.FinalGrade != p.result.FinalGrade ||
		prev.RequirementsMet != p.result.RequirementsMet ||
		prev.Passed != p.result.Passed
	return p.broadcastLocked(), changed
}

func (p *Progress) nextAttemptLocked(questionID string) int {
	next := 1
	for _, a := range p.attempts {
		if a.QuestionID == questionID && a.Attempt >= next {
			next = a.Attempt + 1
		}
	}
	return next
}

func (p *Progress) regradeLocked(g *grading.Grader, policy grading.Policy) {
	p.result = g.Evaluate(grading.Resolve(policy, p.attempts))
	p.updatedAt = p.now()
}

// AddViewer registers one more viewer. Stores call it while holding their own
// lock so an entry is never dropped between lookup and claim.
func (p *Progress) AddViewer() {
	p.mu.Lock()
	p.viewers++
	p.mu.Unlock()
}

// RemoveViewer drops one viewer and returns how many remain.
func (p *Progress) RemoveViewer() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.viewers > 0 {
		p.viewers--
	}
	return p.viewers
}

// Attempts returns a copy of the recorded history.
func (p *Progress) Attempts() []domain.Attempt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Attempt(nil), p.attempts...)
}

func (p *Progress) subscribe() (<-chan domain.ProgressUpdate, func()) {
	ch := make(chan domain.ProgressUpdate, 8)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	ch <- p.snapshotLocked()
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *Progress) broadcastLocked() domain.ProgressUpdate {
	update := p.snapshotLocked()
	for ch := range p.subscribers {
		select {
		case ch <- update:
		default:
			// Drop the oldest pending update so a slow viewer never blocks grading.
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
	return update
}

func (p *Progress) snapshotLocked() domain.ProgressUpdate {
	return domain.ProgressUpdate{
		ArrangementID: p.key.ArrangementID,
		StudentID:     p.key.StudentID,
		Attempts:      len(p.attempts),
		Result:        p.result,
		UpdatedAt:     p.updatedAt,
	}
}
