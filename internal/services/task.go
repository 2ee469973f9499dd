package services

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/taskforge/apiserver/internal/store"
	"github.com/taskforge/apiserver/types"
)

// TaskRepository defines persistence operations for tasks. Implementations
// must scope every operation to the given owner.
type TaskRepository interface {
	List(ctx context.Context, ownerID int, filter store.TaskFilter) ([]types.Task, error)
	Get(ctx context.Context, ownerID, id int) (types.Task, error)
	Create(ctx context.Context, task types.Task) (types.Task, error)
	Update(ctx context.Context, task types.Task) (types.Task, error)
	Delete(ctx context.Context, ownerID, id int) error
}

// TaskPatch carries task updates. Nil fields are left untouched.
type TaskPatch struct {
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// TaskService encapsulates task use-cases.
type TaskService struct {
	repo TaskRepository
}

func NewTaskService(repo TaskRepository) *TaskService {
	return &TaskService{repo: repo}
}

func (s *TaskService) List(ctx context.Context, ownerID int, filter store.TaskFilter) ([]types.Task, error) {
	return s.repo.List(ctx, ownerID, filter)
}

func (s *TaskService) Get(ctx context.Context, ownerID, id int) (types.Task, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// Create persists a new task for the owner. The owner comes from the
// authenticated caller, never from the request payload.
func (s *TaskService) Create(ctx context.Context, ownerID int, description string, completed bool) (types.Task, error) {
	description = strings.TrimSpace(description)
	if err := (validation.Errors{
		"description": validation.Validate(description, validation.Required),
	}).Filter(); err != nil {
		return types.Task{}, err
	}

	return s.repo.Create(ctx, types.Task{
		Description: description,
		Completed:   completed,
		OwnerID:     ownerID,
	})
}

// Update applies a patch to one of the owner's tasks.
func (s *TaskService) Update(ctx context.Context, ownerID, id int, patch TaskPatch) (types.Task, error) {
	task, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return types.Task{}, err
	}

	if patch.Description != nil {
		task.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}

	if err := (validation.Errors{
		"description": validation.Validate(task.Description, validation.Required),
	}).Filter(); err != nil {
		return types.Task{}, err
	}

	return s.repo.Update(ctx, task)
}

// Delete removes one of the owner's tasks and returns it.
func (s *TaskService) Delete(ctx context.Context, ownerID, id int) (types.Task, error) {
	task, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return types.Task{}, err
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return types.Task{}, err
	}
	return task, nil
}
