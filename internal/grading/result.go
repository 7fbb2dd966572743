package grading

// Verdict is the per-question outcome. Pending means the question type needs
// instructor review; its points count toward MaxScore but not TotalScore until
// manual grades are applied.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictPending   Verdict = "pending"
)

type QuestionResult struct {
	QuestionID     string  `json:"question_id"`
	Verdict        Verdict `json:"verdict"`
	PointsAwarded  int     `json:"points_awarded"`
	PointsPossible int     `json:"points_possible"`

	// Answer-key fields, stripped by Redacted when the quiz hides them.
	CorrectOptionID string `json:"correct_option_id,omitempty"`
	CorrectText     string `json:"correct_text,omitempty"`
	Explanation     string `json:"explanation,omitempty"`

	GradedBy string `json:"graded_by,omitempty"` // set by manual grading
	Comment  string `json:"comment,omitempty"`
}

// Result is the full outcome of grading one attempt. Once persisted it is
// immutable except through ApplyManual, and always reflects the definition
// snapshot taken at attempt start.
type Result struct {
	QuizID          string           `json:"quiz_id"`
	Questions       []QuestionResult `json:"questions"`
	TotalScore      int              `json:"total_score"`
	MaxScore        int              `json:"max_score"`
	PercentageScore int              `json:"percentage_score"`
	Passed          bool             `json:"passed"`
	PendingManual   []string         `json:"pending_manual,omitempty"` // question IDs
}

// percentage rounds half up; a zero max short-circuits to 0 instead of
// dividing by zero.
func percentage(total, max int) int {
	if max <= 0 {
		return 0
	}
	return (total*200 + max) / (2 * max)
}

// Redacted returns a caller-facing copy with correct answers and
// explanations removed. Used when show_correct_answers is off; the stored
// result keeps the full detail either way.
func (r Result) Redacted() Result {
	out := r
	out.Questions = make([]QuestionResult, len(r.Questions))
	for i, q := range r.Questions {
		q.CorrectOptionID = ""
		q.CorrectText = ""
		q.Explanation = ""
		out.Questions[i] = q
	}
	return out
}

// ManualGrade is one instructor-assigned score for a pending question.
type ManualGrade struct {
	Points  int    `json:"points"`
	Comment string `json:"comment,omitempty"`
}

// ApplyManual folds instructor-assigned grades for pending questions into a
// copy of the result and recomputes the aggregate score and pass flag.
// Points are clamped to the question's possible points, updates for
// questions that are not pending are ignored, and passingPercent is the
// threshold from the definition snapshot.
func ApplyManual(r Result, updates map[string]ManualGrade, gradedBy string, passingPercent int) Result {
	out := r
	out.Questions = make([]QuestionResult, len(r.Questions))
	copy(out.Questions, r.Questions)
	out.PendingManual = nil
	out.TotalScore = 0

	for i, q := range out.Questions {
		if u, ok := updates[q.QuestionID]; ok && q.Verdict == VerdictPending {
			pts := u.Points
			if pts < 0 {
				pts = 0
			}
			if pts > q.PointsPossible {
				pts = q.PointsPossible
			}
			q.PointsAwarded = pts
			if pts == q.PointsPossible {
				q.Verdict = VerdictCorrect
			} else {
				q.Verdict = VerdictIncorrect
			}
			q.GradedBy = gradedBy
			q.Comment = u.Comment
			out.Questions[i] = q
		}
		if out.Questions[i].Verdict == VerdictPending {
			out.PendingManual = append(out.PendingManual, q.QuestionID)
		}
		out.TotalScore += out.Questions[i].PointsAwarded
	}
	out.PercentageScore = percentage(out.TotalScore, out.MaxScore)
	out.Passed = out.MaxScore > 0 && out.PercentageScore >= passingPercent
	return out
}
