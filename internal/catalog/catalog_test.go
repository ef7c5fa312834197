package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	// Migrations must be a no-op the second time around.
	c, err = Open(context.Background(), path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer c.Close()
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	if err := c.SeedDemo(ctx, testLogger()); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	// Seeding again on a non-empty catalog changes nothing.
	if err := c.SeedDemo(ctx, testLogger()); err != nil {
		t.Fatalf("re-seeding: %v", err)
	}

	subjects, err := c.Subjects(ctx)
	if err != nil {
		t.Fatalf("listing subjects: %v", err)
	}
	if len(subjects) != 1 || subjects[0].ID != "general" {
		t.Fatalf("subjects = %+v, want the single demo subject", subjects)
	}

	quizzes, err := c.Quizzes(ctx, "general")
	if err != nil {
		t.Fatalf("listing quizzes: %v", err)
	}
	if len(quizzes) != 1 {
		t.Fatalf("quizzes = %+v, want one", quizzes)
	}
	if quizzes[0].Questions != 8 {
		t.Errorf("question count = %d, want 8", quizzes[0].Questions)
	}
}

func TestQuestionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	if err := c.SeedDemo(ctx, testLogger()); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	qs, err := c.Questions(ctx, "general-warmup")
	if err != nil {
		t.Fatalf("loading questions: %v", err)
	}
	if len(qs) != 8 {
		t.Fatalf("questions = %d, want 8", len(qs))
	}
	for i, q := range qs {
		if len(q.Options) != 4 {
			t.Errorf("question %d: options = %v, want 4", i, q.Options)
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.CorrectAnswer {
				found = true
			}
		}
		if !found {
			t.Errorf("question %d: correct answer %q not among options", i, q.CorrectAnswer)
		}
	}
	// Stored order is stable; the first seeded question comes first.
	if qs[0].CorrectAnswer != "Mars" {
		t.Errorf("first question answer = %q, want Mars", qs[0].CorrectAnswer)
	}
}

func TestLookupsReportMissing(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	if _, err := c.Quiz(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Quiz err = %v, want ErrNotFound", err)
	}
	if _, err := c.Questions(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Questions err = %v, want ErrNotFound", err)
	}
}
