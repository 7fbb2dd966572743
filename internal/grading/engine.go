package grading

import (
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

// Answer is the minimal view of a learner's answer the engine needs.
// Keep this in sync with whatever fields your attempt store uses.
type Answer struct {
	SelectedOptionID string
	TextAnswer       string
}

// Ledger is the full set of answers belonging to one attempt, keyed by
// question ID.
type Ledger map[string]Answer

// Strategy grades a single answered question of one type.
type Strategy interface {
	Grade(q quiz.Question, ans Answer) (Verdict, int)
}

// Engine routes by question type to the correct Strategy and aggregates the
// per-question outcomes into a Result. Grade is pure: no side effects, no
// clock, identical inputs always yield identical results, so it is safe to
// call repeatedly (e.g. for live-preview scoring).
type Engine struct {
	strategies map[quiz.QuestionType]Strategy
}

// NewEngine installs the built-in strategies, one per question type.
func NewEngine() *Engine {
	return &Engine{
		strategies: map[quiz.QuestionType]Strategy{
			quiz.TypeMultipleChoice: optionMatchStrategy{},
			quiz.TypeTrueFalse:      optionMatchStrategy{},
			quiz.TypeFillBlank:      textMatchStrategy{},
			quiz.TypeTextAssignment: manualStrategy{},
			quiz.TypeFileAssignment: manualStrategy{},
			quiz.TypeVideoRecording: manualStrategy{},
			quiz.TypeAudioRecording: manualStrategy{},
		},
	}
}

// Grade scores the ledger against the quiz definition. Unanswered questions
// are incorrect, not an error. Manual question types come back pending with
// zero auto points while their possible points still count toward MaxScore.
func (e *Engine) Grade(z quiz.Quiz, ledger Ledger) Result {
	res := Result{
		QuizID:    z.ID,
		Questions: make([]QuestionResult, 0, len(z.Questions)),
	}
	for _, q := range z.Questions {
		qr := QuestionResult{
			QuestionID:      q.ID,
			PointsPossible:  q.Points,
			CorrectOptionID: q.CorrectOptionID(),
			CorrectText:     q.CorrectText,
			Explanation:     q.Explanation,
		}
		ans, answered := ledger[q.ID]
		switch {
		case !answered && q.Type.AutoGradable():
			qr.Verdict = VerdictIncorrect
		default:
			s, ok := e.strategies[q.Type]
			if !ok {
				// unknown type: leave for a human rather than guess
				qr.Verdict = VerdictPending
				break
			}
			qr.Verdict, qr.PointsAwarded = s.Grade(q, ans)
		}
		res.MaxScore += q.Points
		res.TotalScore += qr.PointsAwarded
		if qr.Verdict == VerdictPending {
			res.PendingManual = append(res.PendingManual, q.ID)
		}
		res.Questions = append(res.Questions, qr)
	}
	res.PercentageScore = percentage(res.TotalScore, res.MaxScore)
	res.Passed = res.MaxScore > 0 && res.PercentageScore >= z.Settings.PassingScorePercent
	return res
}

// --- Strategies ---

// optionMatchStrategy covers multiple_choice and true_false: correct iff the
// selected option is the one flagged correct in the definition.
type optionMatchStrategy struct{}

func (optionMatchStrategy) Grade(q quiz.Question, ans Answer) (Verdict, int) {
	if ans.SelectedOptionID != "" && ans.SelectedOptionID == q.CorrectOptionID() {
		return VerdictCorrect, q.Points
	}
	return VerdictIncorrect, 0
}

// textMatchStrategy covers fill_blank: trimmed, case-normalized exact match
// only. No fuzzy or partial credit.
type textMatchStrategy struct{}

func (textMatchStrategy) Grade(q quiz.Question, ans Answer) (Verdict, int) {
	got := normalize(ans.TextAnswer)
	if got != "" && got == normalize(q.CorrectText) {
		return VerdictCorrect, q.Points
	}
	return VerdictIncorrect, 0
}

// manualStrategy covers text_assignment, file_assignment, video_recording and
// audio_recording: never auto-graded, always handed off for instructor review.
type manualStrategy struct{}

func (manualStrategy) Grade(quiz.Question, Answer) (Verdict, int) {
	return VerdictPending, 0
}
