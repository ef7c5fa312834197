package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// SeedDemo creates a demo subject and quiz if the catalog is empty.
// Idempotent: does nothing when any subject exists.
func (c *Catalog) SeedDemo(ctx context.Context, logger *slog.Logger) error {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subjects").Scan(&n); err != nil {
		return fmt.Errorf("checking subjects: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO subjects (id, title) VALUES (?, ?)",
		"general", "General Knowledge"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO quizzes (id, subject_id, title) VALUES (?, ?, ?)",
		"general-warmup", "general", "Warmup Duel"); err != nil {
		return err
	}

	demo := []struct {
		prompt  string
		options []string
		correct string
	}{
		{"Which planet is known as the Red Planet?", []string{"Venus", "Mars", "Jupiter", "Mercury"}, "Mars"},
		{"What is the largest ocean on Earth?", []string{"Atlantic", "Indian", "Pacific", "Arctic"}, "Pacific"},
		{"How many sides does a hexagon have?", []string{"Five", "Six", "Seven", "Eight"}, "Six"},
		{"Which element has the symbol O?", []string{"Gold", "Osmium", "Oxygen", "Silver"}, "Oxygen"},
		{"What year did the first moon landing happen?", []string{"1965", "1969", "1972", "1959"}, "1969"},
		{"Which language has the most native speakers?", []string{"English", "Hindi", "Mandarin", "Spanish"}, "Mandarin"},
		{"What is the capital of Australia?", []string{"Sydney", "Melbourne", "Canberra", "Perth"}, "Canberra"},
		{"Which instrument has 88 keys?", []string{"Organ", "Piano", "Accordion", "Harpsichord"}, "Piano"},
	}
	for i, q := range demo {
		opts, _ := json.Marshal(q.options)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (quiz_id, position, prompt, options, correct_answer)
			VALUES (?, ?, ?, ?, ?)`,
			"general-warmup", i+1, q.prompt, string(opts), q.correct); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("demo catalog seeded", "questions", len(demo))
	return nil
}
