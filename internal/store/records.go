package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
)

// Session kinds.
const (
	KindIntrinsic = "intrinsic"
	KindHandEye   = "handeye"
)

// Session is one capture run.
type Session struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Note      string    `json:"note,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// SessionSummary is a session with its sample count.
type SessionSummary struct {
	Session
	Samples int `json:"samples"`
}

// Sample is one captured image with the arm pose reported at capture time.
// BoardInCamera is filled in once the camera model is known.
type Sample struct {
	Seq           int                 `json:"seq"`
	ID            string              `json:"id"`
	ImagePath     string              `json:"image_path,omitempty"`
	CapturedAt    time.Time           `json:"captured_at"`
	EEFInBase     geometry.Transform  `json:"eef_in_base"`
	BoardInCamera *geometry.Transform `json:"board_in_camera,omitempty"`
}

// HandEyeSample converts a sample with a board pose for the calibrator.
func (s Sample) HandEyeSample() (handeye.Sample, bool) {
	if s.BoardInCamera == nil {
		return handeye.Sample{}, false
	}
	return handeye.Sample{
		ID:            s.ID,
		EEFInBase:     s.EEFInBase,
		BoardInCamera: *s.BoardInCamera,
		ImagePath:     s.ImagePath,
		CapturedAt:    s.CapturedAt,
	}, true
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// SaveSession writes the session and its samples in one transaction. Saving
// the same session again updates its close time and note and replaces
// samples with the same sequence number.
func (s *Store) SaveSession(ctx context.Context, sess Session, samples []Sample) error {
	if sess.ID == "" {
		return errors.New("session has no id")
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var closed sql.NullInt64
	if !sess.ClosedAt.IsZero() {
		closed = sql.NullInt64{Int64: sess.ClosedAt.UnixNano(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, kind, note, started_at, closed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET note = excluded.note, closed_at = excluded.closed_at`,
		sess.ID, sess.Kind, sess.Note, unixNano(sess.StartedAt), closed,
	); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO samples
			(session_id, seq, sample_id, image_path, captured_at, eef_in_base, board_in_camera)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, smp := range samples {
		eef, err := marshal(smp.EEFInBase)
		if err != nil {
			return err
		}
		var board sql.NullString
		if smp.BoardInCamera != nil {
			if board.String, err = marshal(*smp.BoardInCamera); err != nil {
				return err
			}
			board.Valid = true
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, smp.Seq, smp.ID, smp.ImagePath,
			unixNano(smp.CapturedAt), eef, board); err != nil {
			return fmt.Errorf("save sample %d: %w", smp.Seq, err)
		}
	}
	return tx.Commit()
}

// Session returns one session.
func (s *Store) Session(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		started int64
		closed  sql.NullInt64
	)
	err := s.QueryRowContext(ctx,
		`SELECT session_id, kind, note, started_at, closed_at FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.ID, &sess.Kind, &sess.Note, &started, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, err
	}
	sess.StartedAt = fromUnixNano(started)
	if closed.Valid {
		sess.ClosedAt = fromUnixNano(closed.Int64)
	}
	return sess, nil
}

// Sessions lists sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT s.session_id, s.kind, s.note, s.started_at, s.closed_at, COUNT(p.seq)
		FROM sessions s LEFT JOIN samples p ON p.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum     SessionSummary
			started int64
			closed  sql.NullInt64
		)
		if err := rows.Scan(&sum.ID, &sum.Kind, &sum.Note, &started, &closed, &sum.Samples); err != nil {
			return nil, err
		}
		sum.StartedAt = fromUnixNano(started)
		if closed.Valid {
			sum.ClosedAt = fromUnixNano(closed.Int64)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LoadSamples returns the samples of a session in capture order.
func (s *Store) LoadSamples(ctx context.Context, sessionID string) ([]Sample, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, `
		SELECT seq, sample_id, image_path, captured_at, eef_in_base, board_in_camera
		FROM samples WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			smp      Sample
			captured int64
			eef      string
			board    sql.NullString
		)
		if err := rows.Scan(&smp.Seq, &smp.ID, &smp.ImagePath, &captured, &eef, &board); err != nil {
			return nil, err
		}
		smp.CapturedAt = fromUnixNano(captured)
		if err := json.Unmarshal([]byte(eef), &smp.EEFInBase); err != nil {
			return nil, fmt.Errorf("sample %d: eef pose: %w", smp.Seq, err)
		}
		if board.Valid {
			var bp geometry.Transform
			if err := json.Unmarshal([]byte(board.String), &bp); err != nil {
				return nil, fmt.Errorf("sample %d: board pose: %w", smp.Seq, err)
			}
			smp.BoardInCamera = &bp
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// SetBoardPose records the estimated board pose for one sample.
func (s *Store) SetBoardPose(ctx context.Context, sessionID string, seq int, pose geometry.Transform) error {
	js, err := marshal(pose)
	if err != nil {
		return err
	}
	res, err := s.ExecContext(ctx,
		`UPDATE samples SET board_in_camera = ? WHERE session_id = ? AND seq = ?`, js, sessionID, seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sample %s/%d: %w", sessionID, seq, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session and its samples.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// IntrinsicRecord is a stored camera model.
type IntrinsicRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Model     intrinsic.Model `json:"model"`
	RMS       float64         `json:"rms"`
	Views     int             `json:"views"`
}

// SaveIntrinsic stores a camera model.
func (s *Store) SaveIntrinsic(ctx context.Context, rec IntrinsicRecord) error {
	if rec.ID == "" {
		return errors.New("intrinsic record has no id")
	}
	js, err := marshal(rec.Model)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO intrinsic_models (model_id, session_id, created_at, rms, views, model)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.SessionID), unixNano(rec.CreatedAt), rec.RMS, rec.Views, js)
	if err != nil {
		return fmt.Errorf("save intrinsic model %s: %w", rec.ID, err)
	}
	return nil
}

const intrinsicColumns = `model_id, session_id, created_at, rms, views, model`

func scanIntrinsic(row *sql.Row) (IntrinsicRecord, error) {
	var (
		rec     IntrinsicRecord
		session sql.NullString
		created int64
		js      string
	)
	if err := row.Scan(&rec.ID, &session, &created, &rec.RMS, &rec.Views, &js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IntrinsicRecord{}, fmt.Errorf("intrinsic model: %w", ErrNotFound)
		}
		return IntrinsicRecord{}, err
	}
	rec.SessionID = session.String
	rec.CreatedAt = fromUnixNano(created)
	if err := json.Unmarshal([]byte(js), &rec.Model); err != nil {
		return IntrinsicRecord{}, fmt.Errorf("intrinsic model %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Intrinsic returns the camera model with the given id.
func (s *Store) Intrinsic(ctx context.Context, id string) (IntrinsicRecord, error) {
	return scanIntrinsic(s.QueryRowContext(ctx,
		`SELECT `+intrinsicColumns+` FROM intrinsic_models WHERE model_id = ?`, id))
}

// LatestIntrinsic returns the most recently created camera model.
func (s *Store) LatestIntrinsic(ctx context.Context) (IntrinsicRecord, error) {
	return scanIntrinsic(s.QueryRowContext(ctx,
		`SELECT `+intrinsicColumns+` FROM intrinsic_models ORDER BY created_at DESC LIMIT 1`))
}

// ExtrinsicRecord is a stored hand-eye result.
type ExtrinsicRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	ModelID   string         `json:"model_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Result    handeye.Result `json:"result"`
}

// SaveExtrinsic stores a hand-eye result. The record id defaults to the
// result id.
func (s *Store) SaveExtrinsic(ctx context.Context, rec ExtrinsicRecord) error {
	if rec.ID == "" {
		rec.ID = rec.Result.ID
	}
	if rec.ID == "" {
		return errors.New("extrinsic record has no id")
	}
	js, err := marshal(rec.Result)
	if err != nil {
		return err
	}
	r := rec.Result.Residual
	_, err = s.ExecContext(ctx, `
		INSERT INTO extrinsic_results (result_id, session_id, model_id, created_at, quality,
			mean_rotation_deg, max_rotation_deg, mean_translation_m, max_translation_m, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.SessionID), nullString(rec.ModelID), unixNano(rec.CreatedAt),
		string(rec.Result.Quality), r.MeanRotationDeg, r.MaxRotationDeg, r.MeanTranslation, r.MaxTranslation, js)
	if err != nil {
		return fmt.Errorf("save extrinsic result %s: %w", rec.ID, err)
	}
	return nil
}

// LatestExtrinsic returns the most recently created hand-eye result.
func (s *Store) LatestExtrinsic(ctx context.Context) (ExtrinsicRecord, error) {
	var (
		rec              ExtrinsicRecord
		session, modelID sql.NullString
		created          int64
		js               string
	)
	err := s.QueryRowContext(ctx, `
		SELECT result_id, session_id, model_id, created_at, result
		FROM extrinsic_results ORDER BY created_at DESC LIMIT 1`,
	).Scan(&rec.ID, &session, &modelID, &created, &js)
	if errors.Is(err, sql.ErrNoRows) {
		return ExtrinsicRecord{}, fmt.Errorf("extrinsic result: %w", ErrNotFound)
	}
	if err != nil {
		return ExtrinsicRecord{}, err
	}
	rec.SessionID, rec.ModelID = session.String, modelID.String
	rec.CreatedAt = fromUnixNano(created)
	if err := json.Unmarshal([]byte(js), &rec.Result); err != nil {
		return ExtrinsicRecord{}, fmt.Errorf("extrinsic result %s: %w", rec.ID, err)
	}
	return rec, nil
}

// MotionRecord is one entry of the motion log.
type MotionRecord struct {
	ID            string             `json:"id"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
	Target        compose.TargetPose `json:"target"`
	PositionError float64            `json:"position_error"` // -1 when not measured
	Err           string             `json:"error,omitempty"`
}

// RecordMotion appends to the motion log.
func (s *Store) RecordMotion(ctx context.Context, rec MotionRecord) error {
	js, err := marshal(rec.Target)
	if err != nil {
		return err
	}
	var posErr sql.NullFloat64
	if rec.PositionError >= 0 {
		posErr = sql.NullFloat64{Float64: rec.PositionError, Valid: true}
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO motions (motion_id, started_at, duration_ms, target, position_error, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, unixNano(rec.StartedAt), rec.Duration.Milliseconds(), js, posErr, rec.Err)
	return err
}

// Motions returns up to limit motion log entries, newest first.
func (s *Store) Motions(ctx context.Context, limit int) ([]MotionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, `
		SELECT motion_id, started_at, duration_ms, target, position_error, error
		FROM motions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MotionRecord
	for rows.Next() {
		var (
			rec      MotionRecord
			started  int64
			duration int64
			js       string
			posErr   sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &started, &duration, &js, &posErr, &rec.Err); err != nil {
			return nil, err
		}
		rec.StartedAt = fromUnixNano(started)
		rec.Duration = time.Duration(duration) * time.Millisecond
		rec.PositionError = -1
		if posErr.Valid {
			rec.PositionError = posErr.Float64
		}
		if err := json.Unmarshal([]byte(js), &rec.Target); err != nil {
			return nil, fmt.Errorf("motion %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
