// Package catalog is the read side of the quiz content library: subjects,
// quizzes, and their questions, kept in SQLite. Content management lives in a
// separate console; the duel core only ever reads here when a match is
// created.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/riftzone/riftzone/internal/catalog/migrations"
	"github.com/riftzone/riftzone/internal/game"
)

var ErrNotFound = errors.New("not found")

type Subject struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type QuizInfo struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`
	Title     string `json:"title"`
	Questions int    `json:"questions"`
}

type Catalog struct {
	db *sql.DB
}

// Open connects to the catalog database and brings its schema current.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Check reports whether the database is reachable. Used by the health
// endpoint.
func (c *Catalog) Check(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Catalog) Subjects(ctx context.Context) ([]Subject, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, title FROM subjects ORDER BY title")
	if err != nil {
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Catalog) Quizzes(ctx context.Context, subjectID string) ([]QuizInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT q.id, q.subject_id, q.title, COUNT(n.id)
		FROM quizzes q LEFT JOIN questions n ON n.quiz_id = q.id
		WHERE q.subject_id = ?
		GROUP BY q.id ORDER BY q.title`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing quizzes: %w", err)
	}
	defer rows.Close()

	var out []QuizInfo
	for rows.Next() {
		var q QuizInfo
		if err := rows.Scan(&q.ID, &q.SubjectID, &q.Title, &q.Questions); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (c *Catalog) Quiz(ctx context.Context, quizID string) (QuizInfo, error) {
	var q QuizInfo
	err := c.db.QueryRowContext(ctx, `
		SELECT q.id, q.subject_id, q.title, COUNT(n.id)
		FROM quizzes q LEFT JOIN questions n ON n.quiz_id = q.id
		WHERE q.id = ? GROUP BY q.id`, quizID).
		Scan(&q.ID, &q.SubjectID, &q.Title, &q.Questions)
	if errors.Is(err, sql.ErrNoRows) {
		return QuizInfo{}, ErrNotFound
	}
	if err != nil {
		return QuizInfo{}, fmt.Errorf("reading quiz: %w", err)
	}
	return q, nil
}

// Questions returns a quiz's question set in stored order. Match creation
// shuffles its own copy; the catalog order stays stable.
func (c *Catalog) Questions(ctx context.Context, quizID string) ([]game.Question, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT prompt, options, correct_answer FROM questions
		WHERE quiz_id = ? ORDER BY position`, quizID)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	defer rows.Close()

	var out []game.Question
	for rows.Next() {
		var q game.Question
		var optionsJSON string
		if err := rows.Scan(&q.Question, &optionsJSON, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(optionsJSON), &q.Options); err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
