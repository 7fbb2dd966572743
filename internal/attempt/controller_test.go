package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

var testStart = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// recordingLog captures audit events for assertions.
type recordingLog struct {
	mu    sync.Mutex
	types []string
}

func (l *recordingLog) Append(_ context.Context, typ, _ string, _ interface{}) error {
	l.mu.Lock()
	l.types = append(l.types, typ)
	l.mu.Unlock()
	return nil
}

func (l *recordingLog) has(typ string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.types {
		if t == typ {
			return true
		}
	}
	return false
}

func autoQuiz(id string, s quiz.Settings) quiz.Quiz {
	return quiz.Quiz{
		ID:       id,
		Title:    "Checkpoint quiz",
		Settings: s,
		Questions: []quiz.Question{
			{ID: "q1", Type: quiz.TypeMultipleChoice, Prompt: "pick", Points: 2,
				Options: []quiz.Option{{ID: "a"}, {ID: "b", IsCorrect: true}}},
			{ID: "q2", Type: quiz.TypeFillBlank, Prompt: "fill", Points: 2, CorrectText: "go"},
		},
	}
}

// blockedWatchdogs keeps armed watchdogs inert so tests drive expiry
// themselves through the controller or the sweeper.
func blockedWatchdogs() Option {
	return WithWatchdogOptions(WithAfter(func(time.Duration) <-chan time.Time {
		return make(chan time.Time)
	}))
}

func newTestController(t *testing.T, z quiz.Quiz) (*Controller, Store, *fakeClock, *recordingLog) {
	t.Helper()
	store := NewMemoryStore()
	if err := store.PutQuiz(context.Background(), z); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}
	clk := newFakeClock(testStart)
	log := &recordingLog{}
	ctl := NewController(store, grading.NewEngine(),
		WithClock(clk.Now), WithEventLog(log), blockedWatchdogs())
	return ctl, store, clk, log
}

func TestStartUnknownQuiz(t *testing.T) {
	ctl, _, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	if _, err := ctl.Start(context.Background(), "no-such-quiz", "u1"); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("err = %v, want ErrQuizNotFound", err)
	}
}

func TestStartRejectsSecondActiveAttempt(t *testing.T) {
	ctl, _, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 5}))
	ctx := context.Background()

	if _, err := ctl.Start(ctx, "quiz-1", "u1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := ctl.Start(ctx, "quiz-1", "u1"); !errors.Is(err, ErrAttemptAlreadyActive) {
		t.Fatalf("second Start err = %v, want ErrAttemptAlreadyActive", err)
	}
	// a different user is unaffected
	if _, err := ctl.Start(ctx, "quiz-1", "u2"); err != nil {
		t.Fatalf("other user Start: %v", err)
	}
}

func TestAttemptLimit(t *testing.T) {
	ctl, store, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 2}))
	ctx := context.Background()

	runOne := func() {
		s, err := ctl.Start(ctx, "quiz-1", "u1")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
		if _, err := ctl.Submit(ctx, s.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	runOne()
	runOne()

	if _, err := ctl.Start(ctx, "quiz-1", "u1"); !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("third Start err = %v, want ErrAttemptLimitExceeded", err)
	}

	hist, err := store.ListHistory(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	for i, h := range hist {
		if h.AttemptNumber != i+1 {
			t.Fatalf("attempt %d numbered %d", i, h.AttemptNumber)
		}
	}
}

func TestRecordAnswerValidation(t *testing.T) {
	ctl, _, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	cases := []AnswerEvent{
		{QuestionID: "ghost", SelectedOptionID: "b"},          // unknown question
		{QuestionID: "q1"},                                    // choice without an option
		{QuestionID: "q1", SelectedOptionID: "zz"},            // foreign option
		{QuestionID: "q1", SelectedOptionID: "b", TextAnswer: "x"}, // mixed payload
		{QuestionID: "q2", TextAnswer: "   "},                 // blank text
		{QuestionID: "q2", SelectedOptionID: "b"},             // option on a text question
	}
	for i, ev := range cases {
		if _, err := ctl.RecordAnswer(ctx, s.ID, ev); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}

func TestRecordAnswerReplacesAndAccumulatesTime(t *testing.T) {
	ctl, store, clk, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.Advance(30 * time.Second)
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "a"}); err != nil {
		t.Fatalf("first RecordAnswer: %v", err)
	}
	clk.Advance(15 * time.Second)
	rec, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"})
	if err != nil {
		t.Fatalf("second RecordAnswer: %v", err)
	}

	if rec.SelectedOptionID != "b" {
		t.Fatalf("SelectedOptionID = %q, want b", rec.SelectedOptionID)
	}
	if rec.TimeSpentSeconds != 45 {
		t.Fatalf("TimeSpentSeconds = %d, want 45", rec.TimeSpentSeconds)
	}

	// exactly one live record per question
	answers, err := store.ListAnswers(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
}

func TestNavigateBounds(t *testing.T) {
	ctl, _, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := ctl.Navigate(ctx, s.ID, 1); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if _, err := ctl.Navigate(ctx, s.ID, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative index err = %v, want ErrValidation", err)
	}
	if _, err := ctl.Navigate(ctx, s.ID, 2); !errors.Is(err, ErrValidation) {
		t.Fatalf("out of range err = %v, want ErrValidation", err)
	}
}

func TestSubmitEmptyAttempt(t *testing.T) {
	ctl, _, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := ctl.Submit(ctx, s.ID); !errors.Is(err, ErrEmptyAttempt) {
		t.Fatalf("empty Submit err = %v, want ErrEmptyAttempt", err)
	}
	// the attempt stays active and can still be completed
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer after failed submit: %v", err)
	}
	if _, err := ctl.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestDoubleSubmit(t *testing.T) {
	ctl, store, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if _, err := ctl.Submit(ctx, s.ID); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := ctl.Submit(ctx, s.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second Submit err = %v, want ErrInvalidStateTransition", err)
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusGraded {
		t.Fatalf("status = %s, want graded", got.Status)
	}
}

func TestAnswerWriteRejectedAfterFinalize(t *testing.T) {
	ctl, store, clk, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if _, err := ctl.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// a write slipping past the controller's status check still bounces off
	// the store, so the ledger can never diverge from the graded result
	late := AnswerRecord{QuestionID: "q2", TextAnswer: "go", LastModifiedAt: clk.Now()}
	if err := store.UpsertAnswer(ctx, s.ID, late); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("late UpsertAnswer err = %v, want ErrInvalidStateTransition", err)
	}
	answers, err := store.ListAnswers(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0].QuestionID != "q1" {
		t.Fatalf("ledger = %+v, want only q1", answers)
	}
}

func TestSubmitWinsRaceAgainstExpire(t *testing.T) {
	settings := quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 10}
	ctl, store, clk, _ := newTestController(t, autoQuiz("quiz-1", settings))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	clk.Advance(10 * time.Minute)
	if _, err := ctl.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// the late expiry loses the check-and-set and must not regrade
	if _, err := ctl.Expire(ctx, s.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Expire after submit err = %v, want ErrInvalidStateTransition", err)
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusGraded {
		t.Fatalf("status = %s, want graded", got.Status)
	}
}

func TestExpireGradesWhatExists(t *testing.T) {
	settings := quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 5, PassingScorePercent: 50}
	ctl, store, clk, log := newTestController(t, autoQuiz("quiz-1", settings))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	clk.Advance(6 * time.Minute)
	res, err := ctl.Expire(ctx, s.ID)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if res.TotalScore != 2 || res.MaxScore != 4 {
		t.Fatalf("score = %d/%d, want 2/4", res.TotalScore, res.MaxScore)
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	hist, _ := store.ListHistory(ctx, "u1", "quiz-1")
	if len(hist) != 1 || hist[0].Status != StatusExpired {
		t.Fatalf("history = %+v, want one expired entry", hist)
	}
	if !log.has("AttemptExpired") {
		t.Fatalf("expected AttemptExpired event, got %v", log.types)
	}
}

func TestExpireZeroAnswerAttemptPersists(t *testing.T) {
	// a nonzero threshold keeps 0% from passing; with a zero threshold
	// 0 >= 0 legitimately passes
	settings := quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 5, PassingScorePercent: 50}
	ctl, store, clk, _ := newTestController(t, autoQuiz("quiz-1", settings))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.Advance(10 * time.Minute)
	res, err := ctl.Expire(ctx, s.ID)
	if err != nil {
		t.Fatalf("Expire with no answers: %v", err)
	}
	if res.TotalScore != 0 || res.PercentageScore != 0 || res.Passed {
		t.Fatalf("empty expiry scored %+v, want all zero", res)
	}

	stored, err := store.GetResult(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if stored.PercentageScore != 0 {
		t.Fatalf("stored percentage = %d, want 0", stored.PercentageScore)
	}
	if n, _ := store.CountAttempts(ctx, "u1", "quiz-1"); n != 1 {
		t.Fatalf("attempt count = %d, want 1", n)
	}
}

func TestUntimedAttemptHasNoDeadline(t *testing.T) {
	ctl, _, clk, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, timed := s.Deadline(); timed {
		t.Fatal("untimed quiz produced a deadline")
	}

	clk.Advance(100 * time.Hour)
	st, err := ctl.GetState(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Status != StatusActive {
		t.Fatalf("status = %s, want active after 100h", st.Status)
	}
	if st.TimeRemainingSeconds != nil {
		t.Fatalf("TimeRemainingSeconds = %v, want nil", *st.TimeRemainingSeconds)
	}
}

func TestGetStateCountdown(t *testing.T) {
	settings := quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 10}
	ctl, _, clk, _ := newTestController(t, autoQuiz("quiz-1", settings))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.Advance(4 * time.Minute)
	st, err := ctl.GetState(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.TimeRemainingSeconds == nil || *st.TimeRemainingSeconds != 360 {
		t.Fatalf("TimeRemainingSeconds = %v, want 360", st.TimeRemainingSeconds)
	}

	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q2", TextAnswer: "go"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	st, err = ctl.GetState(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(st.AnsweredQuestionIDs) != 1 || st.AnsweredQuestionIDs[0] != "q2" {
		t.Fatalf("AnsweredQuestionIDs = %v, want [q2]", st.AnsweredQuestionIDs)
	}
}

func TestGradingUsesSnapshotNotLiveDefinition(t *testing.T) {
	ctl, store, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1, ShowCorrectAnswers: true}))
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	// instructor flips the answer key mid-attempt
	edited := autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1, ShowCorrectAnswers: true})
	edited.Questions[0].Options[0].IsCorrect = true
	edited.Questions[0].Options[1].IsCorrect = false
	if err := store.PutQuiz(ctx, edited); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}

	res, err := ctl.Submit(ctx, s.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Questions[0].Verdict != grading.VerdictCorrect {
		t.Fatalf("verdict = %s, want correct per the start-time snapshot", res.Questions[0].Verdict)
	}
}

func TestResultRedactionFollowsQuizSetting(t *testing.T) {
	z := autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1}) // show_correct_answers off
	ctl, store, _, _ := newTestController(t, z)
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "a"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	res, err := ctl.Submit(ctx, s.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, q := range res.Questions {
		if q.CorrectOptionID != "" || q.CorrectText != "" {
			t.Fatalf("answer key leaked through redaction: %+v", q)
		}
	}

	// storage keeps the full detail for graders
	stored, err := store.GetResult(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if stored.Questions[0].CorrectOptionID != "b" {
		t.Fatalf("stored CorrectOptionID = %q, want b", stored.Questions[0].CorrectOptionID)
	}
}

func TestManualGradingFlow(t *testing.T) {
	z := quiz.Quiz{
		ID:       "quiz-essay",
		Title:    "Reflection",
		Settings: quiz.Settings{MaxAttempts: 1, PassingScorePercent: 60, ShowCorrectAnswers: true},
		Questions: []quiz.Question{
			{ID: "q1", Type: quiz.TypeTrueFalse, Prompt: "t/f", Points: 2,
				Options: []quiz.Option{{ID: "t", IsCorrect: true}, {ID: "f"}}},
			{ID: "q2", Type: quiz.TypeTextAssignment, Prompt: "Reflect on the module", Points: 8},
		},
	}
	ctl, _, _, log := newTestController(t, z)
	ctx := context.Background()
	s, err := ctl.Start(ctx, "quiz-essay", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// manual grading before termination is rejected
	if _, err := ctl.ApplyManualGrades(ctx, s.ID, map[string]grading.ManualGrade{"q2": {Points: 8}}, "t-1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("grade while active err = %v, want ErrInvalidStateTransition", err)
	}

	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "t"}); err != nil {
		t.Fatalf("RecordAnswer q1: %v", err)
	}
	if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q2", TextAnswer: "my reflection"}); err != nil {
		t.Fatalf("RecordAnswer q2: %v", err)
	}
	res, err := ctl.Submit(ctx, s.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.PendingManual) != 1 || res.Passed {
		t.Fatalf("after submit: pending=%v passed=%v, want one pending and not passed", res.PendingManual, res.Passed)
	}

	items, err := ctl.PendingManualItems(ctx, s.ID)
	if err != nil {
		t.Fatalf("PendingManualItems: %v", err)
	}
	if len(items) != 1 || items[0].QuestionID != "q2" || items[0].Answer == nil {
		t.Fatalf("items = %+v, want q2 with its answer", items)
	}
	if items[0].Answer.TextAnswer != "my reflection" {
		t.Fatalf("answer text = %q", items[0].Answer.TextAnswer)
	}

	out, err := ctl.ApplyManualGrades(ctx, s.ID, map[string]grading.ManualGrade{"q2": {Points: 6, Comment: "good"}}, "t-1")
	if err != nil {
		t.Fatalf("ApplyManualGrades: %v", err)
	}
	if out.TotalScore != 8 || out.PercentageScore != 80 || !out.Passed {
		t.Fatalf("after manual grade: %d%% passed=%v, want 80%% passed", out.PercentageScore, out.Passed)
	}
	if len(out.PendingManual) != 0 {
		t.Fatalf("still pending: %v", out.PendingManual)
	}
	if !log.has("AttemptManuallyGraded") {
		t.Fatalf("expected AttemptManuallyGraded event, got %v", log.types)
	}

	// the terminal status never changes
	got, err := ctl.Session(ctx, s.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != StatusGraded {
		t.Fatalf("status = %s, want graded", got.Status)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	settings := quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 5}
	ctl, _, clk, _ := newTestController(t, autoQuiz("quiz-1", settings))
	ctx := context.Background()

	if _, err := ctl.Start(ctx, "quiz-1", "u1"); err != nil {
		t.Fatalf("Start u1: %v", err)
	}
	if _, err := ctl.Start(ctx, "quiz-1", "u2"); err != nil {
		t.Fatalf("Start u2: %v", err)
	}

	// nothing overdue yet
	if n, err := ctl.ExpireOverdue(ctx); err != nil || n != 0 {
		t.Fatalf("early sweep = (%d, %v), want (0, nil)", n, err)
	}

	clk.Advance(6 * time.Minute)
	n, err := ctl.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d attempts, want 2", n)
	}
	// idempotent
	if n, err := ctl.ExpireOverdue(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep = (%d, %v), want (0, nil)", n, err)
	}
}

func TestHistoryBestAndMostRecent(t *testing.T) {
	ctl, store, _, _ := newTestController(t, autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 5, PassingScorePercent: 75}))
	ctx := context.Background()

	run := func(optionID string) {
		s, err := ctl.Start(ctx, "quiz-1", "u1")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := ctl.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: optionID}); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
		if _, err := ctl.Submit(ctx, s.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	run("b") // 50%
	run("a") // 0%

	best, ok, err := store.BestAttempt(ctx, "u1", "quiz-1")
	if err != nil || !ok {
		t.Fatalf("BestAttempt: ok=%v err=%v", ok, err)
	}
	if best.Percentage != 50 || best.AttemptNumber != 1 {
		t.Fatalf("best = %+v, want attempt 1 at 50%%", best)
	}

	recent, ok, err := store.MostRecentAttempt(ctx, "u1", "quiz-1")
	if err != nil || !ok {
		t.Fatalf("MostRecentAttempt: ok=%v err=%v", ok, err)
	}
	if recent.AttemptNumber != 2 || recent.Percentage != 0 {
		t.Fatalf("recent = %+v, want attempt 2 at 0%%", recent)
	}
}

func TestWatchdogDrivesExpiry(t *testing.T) {
	store := NewMemoryStore()
	z := autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 5})
	if err := store.PutQuiz(context.Background(), z); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}
	clk := newFakeClock(testStart)

	wake := make(chan time.Time, 1)
	ctl := NewController(store, grading.NewEngine(), WithClock(clk.Now),
		WithWatchdogOptions(WithAfter(func(time.Duration) <-chan time.Time { return wake })))

	s, err := ctl.Start(context.Background(), "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.Advance(5 * time.Minute)
	wake <- time.Time{}

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.GetSession(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == StatusExpired {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status = %s, watchdog never expired the attempt", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestResumeRevertsStrandedSubmitting(t *testing.T) {
	store := NewMemoryStore()
	z := autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1})
	ctx := context.Background()
	if err := store.PutQuiz(ctx, z); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}
	clk := newFakeClock(testStart)

	first := NewController(store, grading.NewEngine(), WithClock(clk.Now), blockedWatchdogs())
	s, err := first.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := first.RecordAnswer(ctx, s.ID, AnswerEvent{QuestionID: "q1", SelectedOptionID: "b"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	// crash between the check-and-set and the result write
	if err := store.BeginFinalize(ctx, s.ID); err != nil {
		t.Fatalf("BeginFinalize: %v", err)
	}

	second := NewController(store, grading.NewEngine(), WithClock(clk.Now), blockedWatchdogs())
	if err := second.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status after resume = %s, want active", got.Status)
	}
	// the recovered attempt finishes normally, answers intact
	res, err := second.Submit(ctx, s.ID)
	if err != nil {
		t.Fatalf("Submit after recovery: %v", err)
	}
	if res.TotalScore != 2 {
		t.Fatalf("TotalScore = %d, want 2", res.TotalScore)
	}
}

func TestResumeReArmsWatchdogs(t *testing.T) {
	store := NewMemoryStore()
	z := autoQuiz("quiz-1", quiz.Settings{MaxAttempts: 1, TimeLimitMinutes: 5})
	if err := store.PutQuiz(context.Background(), z); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}
	clk := newFakeClock(testStart)

	// first controller starts the attempt, then "crashes"
	first := NewController(store, grading.NewEngine(), WithClock(clk.Now), blockedWatchdogs())
	s, err := first.Start(context.Background(), "quiz-1", "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// replacement process resumes past the deadline; the re-armed watchdog
	// fires immediately
	clk.Advance(10 * time.Minute)
	second := NewController(store, grading.NewEngine(), WithClock(clk.Now))
	if err := second.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.GetSession(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == StatusExpired {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status = %s, resume did not expire the overdue attempt", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
