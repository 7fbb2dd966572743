package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

// ListOpts filters attempt listings for dashboards and "my attempts" views.
type ListOpts struct {
	QuizID string
	UserID string
	Status string
	Limit  int
	Offset int
}

// Store persists quiz definitions, attempt sessions, answer ledgers, grading
// results and the append-only attempt history. Writes must be acknowledged
// before the caller treats an answer as saved.
type Store interface {
	PutQuiz(ctx context.Context, z quiz.Quiz) error
	// GetQuiz returns the live definition with answer keys. Redact before
	// serving to learners.
	GetQuiz(ctx context.Context, id string) (quiz.Quiz, error)

	CreateSession(ctx context.Context, s Session, snapshot quiz.Quiz) error
	GetSession(ctx context.Context, id string) (Session, error)
	FindActive(ctx context.Context, quizID, userID string) (Session, bool, error)
	// UpdateNavigation moves the cursor and resets the per-question elapsed
	// anchor. Valid only while active.
	UpdateNavigation(ctx context.Context, id string, index int, enteredAt time.Time) error
	// Snapshot returns the definition frozen at attempt start. Grading always
	// uses this, never the live definition.
	Snapshot(ctx context.Context, attemptID string) (quiz.Quiz, error)
	ListSessions(ctx context.Context, opts ListOpts) ([]Session, error)
	// ListOverdueActive finds active timed sessions whose deadline has
	// passed, for the restart sweeper.
	ListOverdueActive(ctx context.Context, now time.Time) ([]Session, error)

	UpsertAnswer(ctx context.Context, attemptID string, rec AnswerRecord) error
	GetAnswer(ctx context.Context, attemptID, questionID string) (AnswerRecord, bool, error)
	ListAnswers(ctx context.Context, attemptID string) ([]AnswerRecord, error)

	// BeginFinalize performs the atomic active->submitting check-and-set.
	// The loser of a submit/expire race gets ErrInvalidStateTransition.
	BeginFinalize(ctx context.Context, attemptID string) error
	// RevertFinalize undoes an interrupted finalization, submitting->active.
	// Used by restart recovery only.
	RevertFinalize(ctx context.Context, attemptID string) error
	CompleteFinalize(ctx context.Context, attemptID string, terminal Status, finishedAt time.Time, res grading.Result) error
	GetResult(ctx context.Context, attemptID string) (grading.Result, error)
	// UpdateResult replaces the stored result after manual grading. The
	// terminal status of the session is untouched.
	UpdateResult(ctx context.Context, attemptID string, res grading.Result) error

	// AppendHistory assigns attempt_number = prior count + 1 and returns the
	// stored entry. History is append-only.
	AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error)
	CountAttempts(ctx context.Context, userID, quizID string) (int, error)
	ListHistory(ctx context.Context, userID, quizID string) ([]HistoryEntry, error)
	BestAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error)
	MostRecentAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error)
}

type memoryStore struct {
	mu        sync.RWMutex
	quizzes   map[string]quiz.Quiz
	sessions  map[string]Session
	snapshots map[string]quiz.Quiz
	answers   map[string]map[string]AnswerRecord // attemptID -> questionID -> record
	results   map[string]grading.Result
	history   []HistoryEntry
}

// NewMemoryStore backs tests and single-process offline use.
func NewMemoryStore() Store {
	return &memoryStore{
		quizzes:   map[string]quiz.Quiz{},
		sessions:  map[string]Session{},
		snapshots: map[string]quiz.Quiz{},
		answers:   map[string]map[string]AnswerRecord{},
		results:   map[string]grading.Result{},
	}
}

func (m *memoryStore) PutQuiz(_ context.Context, z quiz.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizzes[z.ID] = z
	return nil
}

func (m *memoryStore) GetQuiz(_ context.Context, id string) (quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.quizzes[id]
	if !ok {
		return quiz.Quiz{}, ErrQuizNotFound
	}
	return z, nil
}

func (m *memoryStore) CreateSession(_ context.Context, s Session, snapshot quiz.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.snapshots[s.ID] = snapshot
	m.answers[s.ID] = map[string]AnswerRecord{}
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrAttemptNotFound
	}
	return s, nil
}

func (m *memoryStore) FindActive(_ context.Context, quizID, userID string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.QuizID == quizID && s.UserID == userID && s.Status == StatusActive {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (m *memoryStore) UpdateNavigation(_ context.Context, id string, index int, enteredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrAttemptNotFound
	}
	if s.Status != StatusActive {
		return ErrInvalidStateTransition
	}
	s.CurrentQuestionIndex = index
	s.QuestionEnteredAt = enteredAt
	m.sessions[id] = s
	return nil
}

func (m *memoryStore) Snapshot(_ context.Context, attemptID string) (quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.snapshots[attemptID]
	if !ok {
		return quiz.Quiz{}, ErrStaleQuizDefinition
	}
	return z, nil
}

func (m *memoryStore) ListSessions(_ context.Context, opts ListOpts) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if opts.QuizID != "" && s.QuizID != opts.QuizID {
			continue
		}
		if opts.UserID != "" && s.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && string(s.Status) != opts.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) ListOverdueActive(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if deadline, ok := s.Deadline(); ok && !now.Before(deadline) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, attemptID string, rec AnswerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	// no writes once finalization has begun; a late answer would be
	// persisted but missing from the graded result
	if s.Status != StatusActive {
		return ErrInvalidStateTransition
	}
	ledger, ok := m.answers[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	ledger[rec.QuestionID] = rec
	return nil
}

func (m *memoryStore) GetAnswer(_ context.Context, attemptID, questionID string) (AnswerRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.answers[attemptID]
	if !ok {
		return AnswerRecord{}, false, ErrAttemptNotFound
	}
	rec, ok := ledger[questionID]
	return rec, ok, nil
}

func (m *memoryStore) ListAnswers(_ context.Context, attemptID string) ([]AnswerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.answers[attemptID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	out := make([]AnswerRecord, 0, len(ledger))
	for _, rec := range ledger {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) BeginFinalize(_ context.Context, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if s.Status != StatusActive {
		return ErrInvalidStateTransition
	}
	s.Status = StatusSubmitting
	m.sessions[attemptID] = s
	return nil
}

func (m *memoryStore) RevertFinalize(_ context.Context, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if s.Status != StatusSubmitting {
		return ErrInvalidStateTransition
	}
	s.Status = StatusActive
	m.sessions[attemptID] = s
	return nil
}

func (m *memoryStore) CompleteFinalize(_ context.Context, attemptID string, terminal Status, finishedAt time.Time, res grading.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if s.Status != StatusSubmitting || !terminal.Terminal() {
		return ErrInvalidStateTransition
	}
	s.Status = terminal
	s.FinishedAt = &finishedAt
	m.sessions[attemptID] = s
	m.results[attemptID] = res
	return nil
}

func (m *memoryStore) GetResult(_ context.Context, attemptID string) (grading.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[attemptID]
	if !ok {
		return grading.Result{}, ErrAttemptNotFound
	}
	return res, nil
}

func (m *memoryStore) UpdateResult(_ context.Context, attemptID string, res grading.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[attemptID]; !ok {
		return ErrAttemptNotFound
	}
	m.results[attemptID] = res
	return nil
}

func (m *memoryStore) AppendHistory(_ context.Context, e HistoryEntry) (HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.history {
		if h.UserID == e.UserID && h.QuizID == e.QuizID {
			n++
		}
	}
	e.AttemptNumber = n + 1
	m.history = append(m.history, e)
	return e, nil
}

func (m *memoryStore) CountAttempts(_ context.Context, userID, quizID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.history {
		if h.UserID == userID && h.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListHistory(_ context.Context, userID, quizID string) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HistoryEntry
	for _, h := range m.history {
		if h.UserID == userID && h.QuizID == quizID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (m *memoryStore) BestAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error) {
	list, err := m.ListHistory(ctx, userID, quizID)
	if err != nil || len(list) == 0 {
		return HistoryEntry{}, false, err
	}
	best := list[0]
	for _, h := range list[1:] {
		if h.Percentage > best.Percentage {
			best = h
		}
	}
	return best, true, nil
}

func (m *memoryStore) MostRecentAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error) {
	list, err := m.ListHistory(ctx, userID, quizID)
	if err != nil || len(list) == 0 {
		return HistoryEntry{}, false, err
	}
	return list[len(list)-1], true, nil
}

func paginate(s []Session, limit, offset int) []Session {
	if offset >= len(s) {
		return []Session{}
	}
	s = s[offset:]
	if limit > 0 && limit < len(s) {
		s = s[:limit]
	}
	return s
}
