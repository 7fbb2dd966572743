package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

// EventLogger records attempt lifecycle transitions to the audit log.
type EventLogger interface {
	Append(ctx context.Context, typ, key string, payload interface{}) error
}

// Controller owns the attempt state machine: start, answer, navigate,
// submit, forced expiry. It consults the attempt history before allowing a
// start, owns one watchdog per active timed attempt, and invokes the grading
// engine exactly once per attempt at termination.
type Controller struct {
	store  Store
	engine *grading.Engine
	clock  Clock
	events EventLogger

	mu        sync.Mutex
	watchdogs map[string]*Watchdog
	wdOpts    []WatchdogOption
}

type Option func(*Controller)

// WithClock injects a simulated clock for tests.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithEventLog wires the audit trail; nil disables it.
func WithEventLog(l EventLogger) Option { return func(ctl *Controller) { ctl.events = l } }

// WithWatchdogOptions passes options through to every watchdog the
// controller creates.
func WithWatchdogOptions(opts ...WatchdogOption) Option {
	return func(ctl *Controller) { ctl.wdOpts = opts }
}

func NewController(store Store, engine *grading.Engine, opts ...Option) *Controller {
	ctl := &Controller{
		store:     store,
		engine:    engine,
		clock:     time.Now,
		watchdogs: map[string]*Watchdog{},
	}
	for _, o := range opts {
		o(ctl)
	}
	return ctl
}

// Start creates a new attempt session. It fails with
// ErrAttemptLimitExceeded when the user's history for this quiz has reached
// max_attempts, and with ErrAttemptAlreadyActive when an active session for
// the same (user, quiz) pair exists. The definition is snapshotted into the
// session so later edits never affect grading, and a watchdog is armed iff
// the quiz carries a time limit.
func (c *Controller) Start(ctx context.Context, quizID, userID string) (Session, error) {
	z, err := c.store.GetQuiz(ctx, quizID)
	if err != nil {
		return Session{}, err
	}
	if _, active, err := c.store.FindActive(ctx, quizID, userID); err != nil {
		return Session{}, err
	} else if active {
		return Session{}, ErrAttemptAlreadyActive
	}
	n, err := c.store.CountAttempts(ctx, userID, quizID)
	if err != nil {
		return Session{}, err
	}
	if n >= z.Settings.MaxAttempts {
		return Session{}, ErrAttemptLimitExceeded
	}

	now := c.clock()
	s := Session{
		ID:                uuid.NewString(),
		QuizID:            quizID,
		UserID:            userID,
		Status:            StatusActive,
		StartedAt:         now,
		TimeLimitSeconds:  z.Settings.TimeLimitMinutes * 60,
		QuestionEnteredAt: now,
	}
	if err := c.store.CreateSession(ctx, s, z); err != nil {
		return Session{}, err
	}
	if _, timed := s.Deadline(); timed {
		c.armWatchdog(s)
	}
	c.logEvent(ctx, "AttemptStarted", s.ID, s)
	return s, nil
}

// RecordAnswer validates and upserts one answer. Valid only while active.
// Time spent on the question grows by the wall-clock diff since the question
// was last navigated to; recording also resets that anchor.
func (c *Controller) RecordAnswer(ctx context.Context, attemptID string, ev AnswerEvent) (AnswerRecord, error) {
	s, err := c.store.GetSession(ctx, attemptID)
	if err != nil {
		return AnswerRecord{}, err
	}
	if s.Status != StatusActive {
		return AnswerRecord{}, ErrInvalidStateTransition
	}
	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return AnswerRecord{}, err
	}
	q, ok := snap.QuestionByID(ev.QuestionID)
	if !ok {
		return AnswerRecord{}, fmt.Errorf("%w: question %s is not part of this attempt", ErrValidation, ev.QuestionID)
	}
	if err := validateEvent(q, ev); err != nil {
		return AnswerRecord{}, err
	}

	var prevPtr *AnswerRecord
	if prev, has, err := c.store.GetAnswer(ctx, attemptID, ev.QuestionID); err != nil {
		return AnswerRecord{}, err
	} else if has {
		prevPtr = &prev
	}
	now := c.clock()
	rec := reduceAnswer(prevPtr, ev, s.QuestionEnteredAt, now)
	if err := c.store.UpsertAnswer(ctx, attemptID, rec); err != nil {
		return AnswerRecord{}, err
	}
	// reset the elapsed anchor so a follow-up edit is not double counted
	if err := c.store.UpdateNavigation(ctx, attemptID, s.CurrentQuestionIndex, now); err != nil {
		return AnswerRecord{}, err
	}
	return rec, nil
}

// Navigate moves the question cursor. Bounds-checked against the snapshot;
// it resets the per-question elapsed anchor and never affects scoring.
func (c *Controller) Navigate(ctx context.Context, attemptID string, index int) (Session, error) {
	s, err := c.store.GetSession(ctx, attemptID)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return Session{}, ErrInvalidStateTransition
	}
	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return Session{}, err
	}
	if index < 0 || index >= len(snap.Questions) {
		return Session{}, fmt.Errorf("%w: question index %d out of range", ErrValidation, index)
	}
	now := c.clock()
	if err := c.store.UpdateNavigation(ctx, attemptID, index, now); err != nil {
		return Session{}, err
	}
	s.CurrentQuestionIndex = index
	s.QuestionEnteredAt = now
	return s, nil
}

// Submit terminates the attempt as graded. Fails with ErrEmptyAttempt when
// the ledger is empty. The status check-and-set guarantees exactly one
// terminal transition even when racing the watchdog.
func (c *Controller) Submit(ctx context.Context, attemptID string) (grading.Result, error) {
	return c.finalize(ctx, attemptID, StatusGraded)
}

// Expire terminates the attempt because its time ran out. It is a forced
// submit, not data loss: whatever answers exist are graded, including none,
// and the terminal status expired preserves the audit distinction. Invoked
// by the watchdog and the restart sweeper only.
func (c *Controller) Expire(ctx context.Context, attemptID string) (grading.Result, error) {
	return c.finalize(ctx, attemptID, StatusExpired)
}

func (c *Controller) finalize(ctx context.Context, attemptID string, terminal Status) (grading.Result, error) {
	s, err := c.store.GetSession(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	answers, err := c.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	if terminal == StatusGraded && len(answers) == 0 {
		return grading.Result{}, ErrEmptyAttempt
	}

	// single atomic check-and-set; the loser of a submit/expire race stops here
	if err := c.store.BeginFinalize(ctx, attemptID); err != nil {
		return grading.Result{}, err
	}
	c.stopWatchdog(attemptID)

	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	ledger := make(grading.Ledger, len(answers))
	for _, rec := range answers {
		ledger[rec.QuestionID] = grading.Answer{
			SelectedOptionID: rec.SelectedOptionID,
			TextAnswer:       rec.TextAnswer,
		}
	}
	res := c.engine.Grade(snap, ledger)

	now := c.clock()
	if err := c.store.CompleteFinalize(ctx, attemptID, terminal, now, res); err != nil {
		return grading.Result{}, err
	}
	s.Status = terminal
	s.FinishedAt = &now
	entry, err := c.store.AppendHistory(ctx, summarize(s, res, 0))
	if err != nil {
		return grading.Result{}, fmt.Errorf("append history: %w", err)
	}
	c.logEvent(ctx, "Attempt"+title(terminal), attemptID, entry)
	return redactFor(snap, res), nil
}

// Session returns the raw session row, for ownership checks and listings.
func (c *Controller) Session(ctx context.Context, attemptID string) (Session, error) {
	return c.store.GetSession(ctx, attemptID)
}

// GetState returns the read-only snapshot the presentation layer polls.
func (c *Controller) GetState(ctx context.Context, attemptID string) (State, error) {
	s, err := c.store.GetSession(ctx, attemptID)
	if err != nil {
		return State{}, err
	}
	answers, err := c.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return State{}, err
	}
	st := State{
		Status:               s.Status,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		AnsweredQuestionIDs:  make([]string, 0, len(answers)),
	}
	for _, rec := range answers {
		st.AnsweredQuestionIDs = append(st.AnsweredQuestionIDs, rec.QuestionID)
	}
	if rem, timed := s.Remaining(c.clock()); timed && s.Status == StatusActive {
		secs := int(rem / time.Second)
		st.TimeRemainingSeconds = &secs
	}
	return st, nil
}

// Result returns the stored grading result, redacted when the definition
// snapshot hides correct answers. Storage always keeps the full result.
func (c *Controller) Result(ctx context.Context, attemptID string) (grading.Result, error) {
	res, err := c.store.GetResult(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	return redactFor(snap, res), nil
}

// PendingManualItems lists the not-auto-gradable answers of a terminated
// attempt for instructor grading.
func (c *Controller) PendingManualItems(ctx context.Context, attemptID string) ([]PendingItem, error) {
	res, err := c.store.GetResult(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	items := make([]PendingItem, 0, len(res.PendingManual))
	for _, qid := range res.PendingManual {
		q, ok := snap.QuestionByID(qid)
		if !ok {
			continue
		}
		item := PendingItem{
			QuestionID:     q.ID,
			QuestionType:   string(q.Type),
			Prompt:         q.Prompt,
			PointsPossible: q.Points,
		}
		if rec, has, err := c.store.GetAnswer(ctx, attemptID, qid); err != nil {
			return nil, err
		} else if has {
			item.Answer = &rec
		}
		items = append(items, item)
	}
	return items, nil
}

// ApplyManualGrades folds instructor scores for pending questions into the
// stored result. Allowed on terminated attempts only; the terminal status is
// untouched.
func (c *Controller) ApplyManualGrades(ctx context.Context, attemptID string, updates map[string]grading.ManualGrade, gradedBy string) (grading.Result, error) {
	s, err := c.store.GetSession(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	if !s.Status.Terminal() {
		return grading.Result{}, ErrInvalidStateTransition
	}
	res, err := c.store.GetResult(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	snap, err := c.store.Snapshot(ctx, attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	out := grading.ApplyManual(res, updates, gradedBy, snap.Settings.PassingScorePercent)
	if err := c.store.UpdateResult(ctx, attemptID, out); err != nil {
		return grading.Result{}, err
	}
	c.logEvent(ctx, "AttemptManuallyGraded", attemptID, out)
	return out, nil
}

// Resume recovers attempt state after a restart. Sessions stranded in
// submitting by a crash mid-finalization revert to active: their answers are
// intact and no result was stored, so the learner may finish normally.
// Watchdogs are then re-armed for every active timed session; those already
// past their deadline expire immediately, reverted ones included.
func (c *Controller) Resume(ctx context.Context) error {
	stuck, err := c.store.ListSessions(ctx, ListOpts{Status: string(StatusSubmitting), Limit: -1})
	if err != nil {
		return err
	}
	for _, s := range stuck {
		if err := c.store.RevertFinalize(ctx, s.ID); err != nil {
			return fmt.Errorf("revert stranded attempt %s: %w", s.ID, err)
		}
		c.logEvent(ctx, "AttemptFinalizeReverted", s.ID, s)
	}

	active, err := c.store.ListSessions(ctx, ListOpts{Status: string(StatusActive), Limit: -1})
	if err != nil {
		return err
	}
	for _, s := range active {
		if _, timed := s.Deadline(); timed {
			c.armWatchdog(s)
		}
	}
	return nil
}

// ExpireOverdue force-expires every active timed session whose deadline has
// passed. The sweeper calls this periodically as a safety net for timers
// lost to a crash.
func (c *Controller) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := c.store.ListOverdueActive(ctx, c.clock())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range overdue {
		if _, err := c.Expire(ctx, s.ID); err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				continue // lost the race to a watchdog or a submit; fine
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Controller) armWatchdog(s Session) {
	deadline, ok := s.Deadline()
	if !ok {
		return
	}
	wd := NewWatchdog(deadline, c.clock, func() {
		// the CAS guard makes a race with submit a harmless no-op
		if _, err := c.Expire(context.Background(), s.ID); err != nil && !errors.Is(err, ErrInvalidStateTransition) {
			c.logEvent(context.Background(), "AttemptExpiryFailed", s.ID, err.Error())
		}
	}, c.wdOpts...)
	c.mu.Lock()
	c.watchdogs[s.ID] = wd
	c.mu.Unlock()
	wd.Start()
}

func (c *Controller) stopWatchdog(attemptID string) {
	c.mu.Lock()
	wd := c.watchdogs[attemptID]
	delete(c.watchdogs, attemptID)
	c.mu.Unlock()
	if wd != nil {
		wd.Stop()
	}
}

func redactFor(snap quiz.Quiz, res grading.Result) grading.Result {
	if snap.Settings.ShowCorrectAnswers {
		return res
	}
	return res.Redacted()
}

func (c *Controller) logEvent(ctx context.Context, typ, key string, payload interface{}) {
	if c.events == nil {
		return
	}
	_ = c.events.Append(ctx, typ, key, payload)
}

func title(s Status) string {
	switch s {
	case StatusGraded:
		return "Submitted"
	case StatusExpired:
		return "Expired"
	}
	return string(s)
}
