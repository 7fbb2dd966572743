package quiz

// QuestionType tags dispatch in the grading engine; adding a type means
// adding one grading strategy, nothing else.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeFillBlank      QuestionType = "fill_blank"
	TypeTextAssignment QuestionType = "text_assignment"
	TypeFileAssignment QuestionType = "file_assignment"
	TypeVideoRecording QuestionType = "video_recording"
	TypeAudioRecording QuestionType = "audio_recording"
)

// AutoGradable reports whether correctness is computable from the definition
// and the answer alone, without human judgment.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case TypeMultipleChoice, TypeTrueFalse, TypeFillBlank:
		return true
	}
	return false
}

func (t QuestionType) Known() bool {
	switch t {
	case TypeMultipleChoice, TypeTrueFalse, TypeFillBlank,
		TypeTextAssignment, TypeFileAssignment, TypeVideoRecording, TypeAudioRecording:
		return true
	}
	return false
}

type Option struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	Points      int          `json:"points"`
	Position    int          `json:"position"`
	Explanation string       `json:"explanation,omitempty"`
	Options     []Option     `json:"options,omitempty"`
	CorrectText string       `json:"correct_text,omitempty"` // fill_blank only
}

// CorrectOptionID returns the ID of the single option flagged correct, or ""
// for question types that carry no options.
func (q Question) CorrectOptionID() string {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o.ID
		}
	}
	return ""
}

type Settings struct {
	TimeLimitMinutes    int  `json:"time_limit_minutes,omitempty"` // 0 = untimed
	PassingScorePercent int  `json:"passing_score_percent"`
	MaxAttempts         int  `json:"max_attempts"`
	ShuffleQuestions    bool `json:"shuffle_questions,omitempty"`
	ShowCorrectAnswers  bool `json:"show_correct_answers,omitempty"`
}

type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Settings  Settings   `json:"settings"`
	Questions []Question `json:"questions"`

	CreatedAt int64 `json:"created_at,omitempty"`
}

// QuestionByID looks a question up in the definition; second result is false
// when the ID is not part of this quiz.
func (z Quiz) QuestionByID(id string) (Question, bool) {
	for _, q := range z.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// MaxScore is the sum of all question points, manual types included.
func (z Quiz) MaxScore() int {
	total := 0
	for _, q := range z.Questions {
		total += q.Points
	}
	return total
}

// Redacted returns a learner-safe copy with answer keys and explanations
// stripped. The stored definition is never modified.
func (z Quiz) Redacted() Quiz {
	out := z
	out.Questions = make([]Question, len(z.Questions))
	for i, q := range z.Questions {
		q.CorrectText = ""
		q.Explanation = ""
		if len(q.Options) > 0 {
			opts := make([]Option, len(q.Options))
			for j, o := range q.Options {
				o.IsCorrect = false
				opts[j] = o
			}
			q.Options = opts
		}
		out.Questions[i] = q
	}
	return out
}
