package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultCategory is stored when a question is created without one.
const DefaultCategory = "General"

// Question is a practice prompt shown to students.
type Question struct {
	ID        int        `json:"id"`
	Topic     string     `json:"topic"`
	Question  string     `json:"question"`
	Category  string     `json:"category"`
	CreatedAt *time.Time `json:"created_at"`
}

// QuestionPatch carries the fields of a partial question update.
// Nil fields are left unchanged.
type QuestionPatch struct {
	Topic    *string
	Question *string
	Category *string
}

const questionColumns = `id, topic, question, COALESCE(category, ''), created_at`

func scanQuestion(row pgx.Row) (*Question, error) {
	var q Question
	if err := row.Scan(&q.ID, &q.Topic, &q.Question, &q.Category, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuestions returns every question in id order.
func (db *DB) ListQuestions(ctx context.Context) ([]Question, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

func (db *DB) GetQuestion(ctx context.Context, id int) (*Question, error) {
	q, err := scanQuestion(db.Pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// RandomQuestion picks one question uniformly at random.
// Returns ErrNotFound when the table is empty.
func (db *DB) RandomQuestion(ctx context.Context) (*Question, error) {
	q, err := scanQuestion(db.Pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions ORDER BY random() LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// CreateQuestion inserts a question and returns its id.
func (db *DB) CreateQuestion(ctx context.Context, topic, question, category string) (int, error) {
	if category == "" {
		category = DefaultCategory
	}

	var id int
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO questions (topic, question, category, created_at)
			VALUES ($1, $2, $3, now())
			RETURNING id
		`, topic, question, category).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return id, nil
}

// UpdateQuestion applies a partial update. Returns ErrNotFound for an unknown id.
func (db *DB) UpdateQuestion(ctx context.Context, id int, p QuestionPatch) error {
	return db.execOne(ctx, "update question", `
		UPDATE questions SET
			topic    = COALESCE($2, topic),
			question = COALESCE($3, question),
			category = COALESCE($4, category)
		WHERE id = $1
	`, id, p.Topic, p.Question, p.Category)
}

func (db *DB) DeleteQuestion(ctx context.Context, id int) error {
	return db.execOne(ctx, "delete question", `DELETE FROM questions WHERE id = $1`, id)
}
