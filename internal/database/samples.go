package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultSampleScore is the score recorded when an upload omits one.
const DefaultSampleScore = 2.0

// Sample is a curated model answer with its hosted recording.
type Sample struct {
	ID         int        `json:"id"`
	Filename   string     `json:"filename"`
	Topic      string     `json:"topic"`
	Question   string     `json:"question"`
	Speaker    string     `json:"speaker"`
	Score      float64    `json:"score"`
	Duration   int        `json:"duration"`
	Transcript string     `json:"transcript"`
	Feedback   string     `json:"feedback"`
	AudioURL   string     `json:"audioUrl"`
	Tags       []string   `json:"tags"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// SampleInput is a new sample row.
type SampleInput struct {
	Filename   string
	Topic      string
	Question   string
	Speaker    string
	Score      float64
	Duration   int
	Transcript string
	Feedback   string
	AudioURL   string
}

// Validate reports a missing required field.
func (in SampleInput) Validate() error {
	for _, f := range []struct{ name, v string }{
		{"topic", in.Topic},
		{"speaker", in.Speaker},
		{"transcript", in.Transcript},
		{"feedback", in.Feedback},
	} {
		if strings.TrimSpace(f.v) == "" {
			return fmt.Errorf("missing required field %q", f.name)
		}
	}
	return nil
}

// SamplePatch carries the fields of a partial sample update.
type SamplePatch struct {
	Topic      *string
	Question   *string
	Speaker    *string
	Score      *float64
	Transcript *string
	Feedback   *string
}

// SampleTags returns the display tags for a sample: topic, speaker and score.
func SampleTags(topic, speaker string, score float64) []string {
	return []string{topic, speaker, FormatScore(score) + "/2.0"}
}

// FormatScore renders a score with at least one decimal place ("2.0", "1.75").
func FormatScore(score float64) string {
	s := strconv.FormatFloat(score, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

const sampleColumns = `id, filename, topic, COALESCE(question, ''), speaker, score,
	COALESCE(duration, 0), transcript, feedback, COALESCE(audio_url, ''), created_at`

func scanSample(row pgx.Row) (*Sample, error) {
	var s Sample
	err := row.Scan(&s.ID, &s.Filename, &s.Topic, &s.Question, &s.Speaker, &s.Score,
		&s.Duration, &s.Transcript, &s.Feedback, &s.AudioURL, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Tags = SampleTags(s.Topic, s.Speaker, s.Score)
	return &s, nil
}

// ListSamples returns all samples, newest first.
func (db *DB) ListSamples(ctx context.Context) ([]Sample, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY created_at DESC NULLS LAST, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

func (db *DB) GetSample(ctx context.Context, id int) (*Sample, error) {
	s, err := scanSample(db.Pool.QueryRow(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// CreateSample validates and inserts a sample, returning its id.
func (db *DB) CreateSample(ctx context.Context, in SampleInput) (int, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	var id int
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO samples (filename, topic, question, speaker, score, duration,
				transcript, feedback, audio_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			RETURNING id
		`, in.Filename, in.Topic, pqString(in.Question), in.Speaker, in.Score, in.Duration,
			in.Transcript, in.Feedback, pqString(in.AudioURL)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert sample: %w", err)
	}
	return id, nil
}

// UpdateSample applies a partial update. Returns ErrNotFound for an unknown id.
func (db *DB) UpdateSample(ctx context.Context, id int, p SamplePatch) error {
	return db.execOne(ctx, "update sample", `
		UPDATE samples SET
			topic      = COALESCE($2, topic),
			question   = COALESCE($3, question),
			speaker    = COALESCE($4, speaker),
			score      = COALESCE($5, score),
			transcript = COALESCE($6, transcript),
			feedback   = COALESCE($7, feedback)
		WHERE id = $1
	`, id, p.Topic, p.Question, p.Speaker, p.Score, p.Transcript, p.Feedback)
}

func (db *DB) DeleteSample(ctx context.Context, id int) error {
	return db.execOne(ctx, "delete sample", `DELETE FROM samples WHERE id = $1`, id)
}

func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
