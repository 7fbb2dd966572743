package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

// SQLStore implements Store over database/sql. It works against both the
// sqlite (offline) and postgres (online) schemas from internal/db.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutQuiz(ctx context.Context, z quiz.Quiz) error {
	dj, err := json.Marshal(z)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quizzes (id,title,definition_json,created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, definition_json=EXCLUDED.definition_json`,
		z.ID, z.Title, string(dj), time.Now().Unix())
	return err
}

func (s *SQLStore) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	var dj string
	err := s.db.QueryRowContext(ctx, `SELECT definition_json FROM quizzes WHERE id=$1`, id).Scan(&dj)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Quiz{}, ErrQuizNotFound
	}
	if err != nil {
		return quiz.Quiz{}, err
	}
	var z quiz.Quiz
	if err := json.Unmarshal([]byte(dj), &z); err != nil {
		return quiz.Quiz{}, fmt.Errorf("decode quiz %s: %w", id, err)
	}
	return z, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess Session, snapshot quiz.Quiz) error {
	sj, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,quiz_id,user_id,status,time_limit_sec,started_at,current_index,question_entered_at,snapshot_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.ID, sess.QuizID, sess.UserID, string(sess.Status), sess.TimeLimitSeconds,
		sess.StartedAt.Unix(), sess.CurrentQuestionIndex, sess.QuestionEnteredAt.Unix(), string(sj))
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,quiz_id,user_id,status,time_limit_sec,started_at,finished_at,current_index,question_entered_at
		FROM attempts WHERE id=$1`, id)
	return scanSession(row)
}

func (s *SQLStore) FindActive(ctx context.Context, quizID, userID string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,quiz_id,user_id,status,time_limit_sec,started_at,finished_at,current_index,question_entered_at
		FROM attempts WHERE quiz_id=$1 AND user_id=$2 AND status=$3`, quizID, userID, string(StatusActive))
	sess, err := scanSession(row)
	if errors.Is(err, ErrAttemptNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *SQLStore) UpdateNavigation(ctx context.Context, id string, index int, enteredAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET current_index=$1, question_entered_at=$2
		WHERE id=$3 AND status=$4`, index, enteredAt.Unix(), id, string(StatusActive))
	if err != nil {
		return err
	}
	return checkOneRow(ctx, s.db, res, id)
}

func (s *SQLStore) Snapshot(ctx context.Context, attemptID string) (quiz.Quiz, error) {
	var sj string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM attempts WHERE id=$1`, attemptID).Scan(&sj)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Quiz{}, ErrAttemptNotFound
	}
	if err != nil {
		return quiz.Quiz{}, err
	}
	var z quiz.Quiz
	if err := json.Unmarshal([]byte(sj), &z); err != nil {
		return quiz.Quiz{}, fmt.Errorf("%w: snapshot unreadable: %v", ErrStaleQuizDefinition, err)
	}
	return z, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, opts ListOpts) ([]Session, error) {
	q := `SELECT id,quiz_id,user_id,status,time_limit_sec,started_at,finished_at,current_index,question_entered_at FROM attempts WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		q += fmt.Sprintf(" AND %s=$%d", clause, n)
		args = append(args, v)
	}
	if opts.QuizID != "" {
		add("quiz_id", opts.QuizID)
	}
	if opts.UserID != "" {
		add("user_id", opts.UserID)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	q += " ORDER BY started_at DESC"
	// a negative limit means unbounded; the restart scans need every row
	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListOverdueActive(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,quiz_id,user_id,status,time_limit_sec,started_at,finished_at,current_index,question_entered_at
		FROM attempts WHERE status=$1 AND time_limit_sec > 0 AND started_at + time_limit_sec <= $2`,
		string(StatusActive), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpsertAnswer refuses writes once finalization has begun: the guard
// subquery keeps a late answer from landing in the ledger after grading
// already listed it.
func (s *SQLStore) UpsertAnswer(ctx context.Context, attemptID string, rec AnswerRecord) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempt_answers
		(attempt_id,question_id,selected_option_id,text_answer,time_spent_sec,last_modified_at)
		SELECT $1,$2,$3,$4,$5,$6
		WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND status=$7)
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET
		  selected_option_id=EXCLUDED.selected_option_id,
		  text_answer=EXCLUDED.text_answer,
		  time_spent_sec=EXCLUDED.time_spent_sec,
		  last_modified_at=EXCLUDED.last_modified_at`,
		attemptID, rec.QuestionID, rec.SelectedOptionID, rec.TextAnswer,
		rec.TimeSpentSeconds, rec.LastModifiedAt.Unix(), string(StatusActive))
	if err != nil {
		return err
	}
	return checkOneRow(ctx, s.db, res, attemptID)
}

func (s *SQLStore) GetAnswer(ctx context.Context, attemptID, questionID string) (AnswerRecord, bool, error) {
	var rec AnswerRecord
	var modified int64
	err := s.db.QueryRowContext(ctx, `SELECT question_id,selected_option_id,text_answer,time_spent_sec,last_modified_at
		FROM attempt_answers WHERE attempt_id=$1 AND question_id=$2`, attemptID, questionID).
		Scan(&rec.QuestionID, &rec.SelectedOptionID, &rec.TextAnswer, &rec.TimeSpentSeconds, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return AnswerRecord{}, false, nil
	}
	if err != nil {
		return AnswerRecord{}, false, err
	}
	rec.LastModifiedAt = time.Unix(modified, 0)
	return rec, true, nil
}

func (s *SQLStore) ListAnswers(ctx context.Context, attemptID string) ([]AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id,selected_option_id,text_answer,time_spent_sec,last_modified_at
		FROM attempt_answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AnswerRecord{}
	for rows.Next() {
		var rec AnswerRecord
		var modified int64
		if err := rows.Scan(&rec.QuestionID, &rec.SelectedOptionID, &rec.TextAnswer, &rec.TimeSpentSeconds, &modified); err != nil {
			return nil, err
		}
		rec.LastModifiedAt = time.Unix(modified, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) BeginFinalize(ctx context.Context, attemptID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status=$1 WHERE id=$2 AND status=$3`,
		string(StatusSubmitting), attemptID, string(StatusActive))
	if err != nil {
		return err
	}
	return checkOneRow(ctx, s.db, res, attemptID)
}

func (s *SQLStore) RevertFinalize(ctx context.Context, attemptID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status=$1 WHERE id=$2 AND status=$3`,
		string(StatusActive), attemptID, string(StatusSubmitting))
	if err != nil {
		return err
	}
	return checkOneRow(ctx, s.db, res, attemptID)
}

func (s *SQLStore) CompleteFinalize(ctx context.Context, attemptID string, terminal Status, finishedAt time.Time, res grading.Result) error {
	if !terminal.Terminal() {
		return ErrInvalidStateTransition
	}
	rj, err := json.Marshal(res)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	out, err := tx.ExecContext(ctx, `UPDATE attempts SET status=$1, finished_at=$2 WHERE id=$3 AND status=$4`,
		string(terminal), finishedAt.Unix(), attemptID, string(StatusSubmitting))
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrInvalidStateTransition
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO attempt_results (attempt_id,result_json,created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (attempt_id) DO NOTHING`, attemptID, string(rj), finishedAt.Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetResult(ctx context.Context, attemptID string) (grading.Result, error) {
	var rj string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM attempt_results WHERE attempt_id=$1`, attemptID).Scan(&rj)
	if errors.Is(err, sql.ErrNoRows) {
		return grading.Result{}, ErrAttemptNotFound
	}
	if err != nil {
		return grading.Result{}, err
	}
	var res grading.Result
	if err := json.Unmarshal([]byte(rj), &res); err != nil {
		return grading.Result{}, fmt.Errorf("decode result for %s: %w", attemptID, err)
	}
	return res, nil
}

func (s *SQLStore) UpdateResult(ctx context.Context, attemptID string, res grading.Result) error {
	rj, err := json.Marshal(res)
	if err != nil {
		return err
	}
	out, err := s.db.ExecContext(ctx, `UPDATE attempt_results SET result_json=$1 WHERE attempt_id=$2`, string(rj), attemptID)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *SQLStore) AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return HistoryEntry{}, err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempt_history WHERE user_id=$1 AND quiz_id=$2`,
		e.UserID, e.QuizID).Scan(&n); err != nil {
		return HistoryEntry{}, err
	}
	e.AttemptNumber = n + 1
	if _, err := tx.ExecContext(ctx, `INSERT INTO attempt_history
		(user_id,quiz_id,attempt_id,attempt_number,status,total_score,max_score,percentage,passed,started_at,finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.UserID, e.QuizID, e.AttemptID, e.AttemptNumber, string(e.Status),
		e.TotalScore, e.MaxScore, e.Percentage, e.Passed, e.StartedAt.Unix(), e.FinishedAt.Unix()); err != nil {
		return HistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return HistoryEntry{}, err
	}
	return e, nil
}

func (s *SQLStore) CountAttempts(ctx context.Context, userID, quizID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempt_history WHERE user_id=$1 AND quiz_id=$2`,
		userID, quizID).Scan(&n)
	return n, err
}

func (s *SQLStore) ListHistory(ctx context.Context, userID, quizID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id,quiz_id,attempt_id,attempt_number,status,total_score,max_score,percentage,passed,started_at,finished_at
		FROM attempt_history WHERE user_id=$1 AND quiz_id=$2 ORDER BY attempt_number`, userID, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) BestAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id,quiz_id,attempt_id,attempt_number,status,total_score,max_score,percentage,passed,started_at,finished_at
		FROM attempt_history WHERE user_id=$1 AND quiz_id=$2
		ORDER BY percentage DESC, attempt_number ASC LIMIT 1`, userID, quizID)
	return scanHistoryRow(row)
}

func (s *SQLStore) MostRecentAttempt(ctx context.Context, userID, quizID string) (HistoryEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id,quiz_id,attempt_id,attempt_number,status,total_score,max_score,percentage,passed,started_at,finished_at
		FROM attempt_history WHERE user_id=$1 AND quiz_id=$2
		ORDER BY attempt_number DESC LIMIT 1`, userID, quizID)
	return scanHistoryRow(row)
}

// --- scan helpers ---

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var status string
	var started, entered int64
	var finished sql.NullInt64
	err := row.Scan(&sess.ID, &sess.QuizID, &sess.UserID, &status, &sess.TimeLimitSeconds,
		&started, &finished, &sess.CurrentQuestionIndex, &entered)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrAttemptNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.Status = Status(status)
	sess.StartedAt = time.Unix(started, 0)
	sess.QuestionEnteredAt = time.Unix(entered, 0)
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		sess.FinishedAt = &t
	}
	return sess, nil
}

func scanHistory(row rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var status string
	var started, finished int64
	err := row.Scan(&e.UserID, &e.QuizID, &e.AttemptID, &e.AttemptNumber, &status,
		&e.TotalScore, &e.MaxScore, &e.Percentage, &e.Passed, &started, &finished)
	if err != nil {
		return HistoryEntry{}, err
	}
	e.Status = Status(status)
	e.StartedAt = time.Unix(started, 0)
	e.FinishedAt = time.Unix(finished, 0)
	return e, nil
}

func scanHistoryRow(row rowScanner) (HistoryEntry, bool, error) {
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, false, nil
	}
	if err != nil {
		return HistoryEntry{}, false, err
	}
	return e, true, nil
}

// checkOneRow maps a zero-row UPDATE to the right business error: the
// attempt either does not exist or is no longer active.
func checkOneRow(ctx context.Context, db *sql.DB, res sql.Result, attemptID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE id=$1`, attemptID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidStateTransition
}
