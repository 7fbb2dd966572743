package quiz

import (
	"errors"
	"fmt"
)

// ErrValidation wraps every structural complaint below so callers can match
// the whole class with errors.Is.
var ErrValidation = errors.New("invalid quiz definition")

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate enforces the authoring rules the attempt lifecycle depends on:
// positive points, sane settings, exactly one correct option for choice
// types, a designated correct text for fill-in-the-blank.
func (z Quiz) Validate() error {
	if z.ID == "" {
		return validationf("quiz id required")
	}
	if z.Title == "" {
		return validationf("quiz %s: title required", z.ID)
	}
	if err := z.Settings.validate(); err != nil {
		return fmt.Errorf("quiz %s: %w", z.ID, err)
	}
	if len(z.Questions) == 0 {
		return validationf("quiz %s: at least one question required", z.ID)
	}
	seen := make(map[string]struct{}, len(z.Questions))
	for i, q := range z.Questions {
		if err := q.validate(); err != nil {
			return fmt.Errorf("quiz %s question %d: %w", z.ID, i, err)
		}
		if _, dup := seen[q.ID]; dup {
			return validationf("quiz %s: duplicate question id %s", z.ID, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

func (s Settings) validate() error {
	if s.TimeLimitMinutes < 0 {
		return validationf("time limit must not be negative")
	}
	if s.PassingScorePercent < 0 || s.PassingScorePercent > 100 {
		return validationf("passing score must be within 0..100, got %d", s.PassingScorePercent)
	}
	if s.MaxAttempts < 1 {
		return validationf("max attempts must be positive, got %d", s.MaxAttempts)
	}
	return nil
}

func (q Question) validate() error {
	if q.ID == "" {
		return validationf("question id required")
	}
	if !q.Type.Known() {
		return validationf("unknown question type %q", q.Type)
	}
	if q.Points <= 0 {
		return validationf("points must be positive, got %d", q.Points)
	}
	switch q.Type {
	case TypeMultipleChoice, TypeTrueFalse:
		if len(q.Options) < 2 {
			return validationf("%s requires at least two options", q.Type)
		}
		correct := 0
		for _, o := range q.Options {
			if o.ID == "" {
				return validationf("option id required")
			}
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return validationf("%s requires exactly one correct option, got %d", q.Type, correct)
		}
	case TypeFillBlank:
		if q.CorrectText == "" {
			return validationf("fill_blank requires a correct text value")
		}
		if len(q.Options) != 0 {
			return validationf("fill_blank carries no options")
		}
	default:
		// manual types carry neither options nor a correct text
		if len(q.Options) != 0 || q.CorrectText != "" {
			return validationf("%s must not carry an answer key", q.Type)
		}
	}
	return nil
}
