package taskrepo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"taskbridge/internal/db"
	"taskbridge/internal/models"
)

func setupRepo(t *testing.T) (*GormRepository, *gorm.DB) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tbr-taskrepo-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		db.CloseDB()
		os.RemoveAll(tmpDir)
	})

	database, err := db.InitDB(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to init test DB: %v", err)
	}
	return NewGormRepository(database), database
}

func TestFindTask(t *testing.T) {
	repo, database := setupRepo(t)
	if err := database.Create(&models.Task{ID: 1, ProjectID: 1, Title: "A task"}).Error; err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	task, err := repo.FindTask(1)
	if err != nil {
		t.Fatalf("FindTask() error = %v", err)
	}
	if task.Title != "A task" {
		t.Errorf("title = %q, want 'A task'", task.Title)
	}

	if _, err := repo.FindTask(99); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("FindTask(99) error = %v, want ErrTaskNotFound", err)
	}
}

func TestCompleteTaskIdempotent(t *testing.T) {
	repo, database := setupRepo(t)
	if err := database.Create(&models.Task{ID: 1, ProjectID: 1, Title: "A task", Status: models.StatusOpen}).Error; err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if err := repo.CompleteTask(1); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	var task models.Task
	database.First(&task, 1)
	if !task.IsDone() {
		t.Errorf("status = %s, want done", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	firstCompletion := *task.CompletedAt

	// Completing again succeeds without moving the completion time.
	if err := repo.CompleteTask(1); err != nil {
		t.Fatalf("second CompleteTask() error = %v", err)
	}
	database.First(&task, 1)
	if !task.CompletedAt.Equal(firstCompletion) {
		t.Error("repeat completion moved completed_at")
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	repo, _ := setupRepo(t)
	if err := repo.CompleteTask(42); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("CompleteTask(42) error = %v, want ErrTaskNotFound", err)
	}
}

func TestTransitionStatus(t *testing.T) {
	repo, database := setupRepo(t)
	if err := database.Create(&models.Task{ID: 1, ProjectID: 1, Title: "A task", Status: models.StatusOpen}).Error; err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if err := repo.TransitionStatus(1, models.StatusInProgress); err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}

	var task models.Task
	database.First(&task, 1)
	if task.Status != models.StatusInProgress {
		t.Errorf("status = %s, want in_progress", task.Status)
	}

	if err := repo.TransitionStatus(99, models.StatusDone); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("TransitionStatus(99) error = %v, want ErrTaskNotFound", err)
	}
}
