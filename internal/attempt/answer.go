package attempt

import (
	"fmt"
	"strings"
	"time"

	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

// AnswerEvent is one selection or typing event coming from the client.
type AnswerEvent struct {
	QuestionID       string `json:"question_id"`
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	TextAnswer       string `json:"text_answer,omitempty"`
}

// reduceAnswer derives the next AnswerRecord from the prior record and the
// event. It is a pure function: selecting an option produces a fresh record
// carrying the new selection, it never flips state on sibling option rows.
// Elapsed time since the question was navigated to is added to the running
// per-question total.
func reduceAnswer(prev *AnswerRecord, ev AnswerEvent, enteredAt, now time.Time) AnswerRecord {
	rec := AnswerRecord{
		QuestionID:       ev.QuestionID,
		SelectedOptionID: ev.SelectedOptionID,
		TextAnswer:       ev.TextAnswer,
		LastModifiedAt:   now,
	}
	if prev != nil {
		rec.TimeSpentSeconds = prev.TimeSpentSeconds
	}
	if !enteredAt.IsZero() && now.After(enteredAt) {
		rec.TimeSpentSeconds += int(now.Sub(enteredAt).Seconds())
	}
	return rec
}

// validateEvent rejects payloads that do not fit the question's shape before
// anything is persisted.
func validateEvent(q quiz.Question, ev AnswerEvent) error {
	switch q.Type {
	case quiz.TypeMultipleChoice, quiz.TypeTrueFalse:
		if ev.SelectedOptionID == "" {
			return fmt.Errorf("%w: question %s requires selected_option_id", ErrValidation, q.ID)
		}
		if ev.TextAnswer != "" {
			return fmt.Errorf("%w: question %s does not take a text answer", ErrValidation, q.ID)
		}
		for _, o := range q.Options {
			if o.ID == ev.SelectedOptionID {
				return nil
			}
		}
		return fmt.Errorf("%w: option %s does not belong to question %s", ErrValidation, ev.SelectedOptionID, q.ID)
	default:
		if ev.SelectedOptionID != "" {
			return fmt.Errorf("%w: question %s does not take an option selection", ErrValidation, q.ID)
		}
		if strings.TrimSpace(ev.TextAnswer) == "" {
			return fmt.Errorf("%w: question %s requires text_answer", ErrValidation, q.ID)
		}
		return nil
	}
}
