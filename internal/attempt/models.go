package attempt

import (
	"time"

	"github.com/skillgrove/skillgrove-api/internal/grading"
)

// Status is the session lifecycle state. Graded and expired are terminal;
// neither ever re-enters active.
type Status string

const (
	StatusActive     Status = "active"
	StatusSubmitting Status = "submitting"
	StatusGraded     Status = "graded"
	StatusExpired    Status = "expired"
)

func (s Status) Terminal() bool { return s == StatusGraded || s == StatusExpired }

// Session is one learner's run through a quiz, created at start and
// terminated exactly once by submit or expiry.
type Session struct {
	ID     string `json:"id"`
	QuizID string `json:"quiz_id"`
	UserID string `json:"user_id"`
	Status Status `json:"status"`

	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	TimeLimitSeconds int        `json:"time_limit_seconds,omitempty"` // 0 = untimed

	CurrentQuestionIndex int `json:"current_question_index"`
	// QuestionEnteredAt anchors per-question elapsed time; navigation resets it.
	QuestionEnteredAt time.Time `json:"question_entered_at"`
}

// Deadline returns the wall-clock instant the attempt must terminate, or
// false for untimed quizzes.
func (s Session) Deadline() (time.Time, bool) {
	if s.TimeLimitSeconds <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(s.TimeLimitSeconds) * time.Second), true
}

// Remaining computes time left from the clock and the start instant rather
// than decrementing a counter, so throttled or paused execution cannot drift
// it. Returns false for untimed quizzes; never negative.
func (s Session) Remaining(now time.Time) (time.Duration, bool) {
	deadline, ok := s.Deadline()
	if !ok {
		return 0, false
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// AnswerRecord is one learner answer. At most one live record exists per
// (attempt, question); later writes replace earlier ones.
type AnswerRecord struct {
	QuestionID       string    `json:"question_id"`
	SelectedOptionID string    `json:"selected_option_id,omitempty"`
	TextAnswer       string    `json:"text_answer,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	LastModifiedAt   time.Time `json:"last_modified_at"`
}

// State is the read-only snapshot exposed to the presentation layer.
type State struct {
	Status               Status   `json:"status"`
	CurrentQuestionIndex int      `json:"current_question_index"`
	TimeRemainingSeconds *int     `json:"time_remaining_seconds,omitempty"`
	AnsweredQuestionIDs  []string `json:"answered_question_ids"`
}

// HistoryEntry is one append-only record of a finished attempt.
type HistoryEntry struct {
	UserID        string    `json:"user_id"`
	QuizID        string    `json:"quiz_id"`
	AttemptID     string    `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	Status        Status    `json:"status"` // graded or expired
	TotalScore    int       `json:"total_score"`
	MaxScore      int       `json:"max_score"`
	Percentage    int       `json:"percentage"`
	Passed        bool      `json:"passed"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// PendingItem is the manual-grading handoff unit: one not-auto-gradable
// answer awaiting instructor review.
type PendingItem struct {
	QuestionID     string        `json:"question_id"`
	QuestionType   string        `json:"question_type"`
	Prompt         string        `json:"prompt"`
	PointsPossible int           `json:"points_possible"`
	Answer         *AnswerRecord `json:"answer,omitempty"` // nil when never answered
}

func summarize(s Session, res grading.Result, attemptNumber int) HistoryEntry {
	finished := s.StartedAt
	if s.FinishedAt != nil {
		finished = *s.FinishedAt
	}
	return HistoryEntry{
		UserID:        s.UserID,
		QuizID:        s.QuizID,
		AttemptID:     s.ID,
		AttemptNumber: attemptNumber,
		Status:        s.Status,
		TotalScore:    res.TotalScore,
		MaxScore:      res.MaxScore,
		Percentage:    res.PercentageScore,
		Passed:        res.Passed,
		StartedAt:     s.StartedAt,
		FinishedAt:    finished,
	}
}
