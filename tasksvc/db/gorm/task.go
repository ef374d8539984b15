package gorm

import (
	"context"
	"errors"

	"github.com/ichigozero/tasktracker/tasksvc"
	stdgorm "gorm.io/gorm"
)

type taskRepository struct {
	db *stdgorm.DB
}

func NewTaskRepository(db *stdgorm.DB) tasksvc.TaskRepository {
	return &taskRepository{db}
}

func (t taskRepository) FindAll(ctx context.Context, ownerID uint64, f tasksvc.Filter) ([]tasksvc.Task, error) {
	query := t.db.WithContext(ctx).Where("owner_id = ?", ownerID)

	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if f.Search != "" {
		query = query.Where(searchClause(t.db), f.Search, f.Search)
	}

	tasks := []tasksvc.Task{}
	result := query.Order("id").Find(&tasks)
	if result.Error != nil {
		return nil, &tasksvc.StorageError{Op: "find tasks", Err: result.Error}
	}

	return tasks, nil
}

func (t taskRepository) Create(ctx context.Context, ownerID uint64, title, description string) (tasksvc.Task, error) {
	task := tasksvc.Task{
		Title:       title,
		Description: description,
		Status:      tasksvc.StatusOpen,
		OwnerID:     ownerID,
	}

	result := t.db.WithContext(ctx).Create(&task)
	if result.Error != nil {
		return tasksvc.Task{}, &tasksvc.StorageError{Op: "create task", Err: result.Error}
	}

	return task, nil
}

func (t taskRepository) Find(ctx context.Context, ownerID, taskID uint64) (tasksvc.Task, bool, error) {
	var task tasksvc.Task
	result := t.db.WithContext(ctx).Where("id = ? AND owner_id = ?", taskID, ownerID).First(&task)

	if errors.Is(result.Error, stdgorm.ErrRecordNotFound) {
		return tasksvc.Task{}, false, nil
	}
	if result.Error != nil {
		return tasksvc.Task{}, false, &tasksvc.StorageError{Op: "find task", Err: result.Error}
	}

	return task, true, nil
}

func (t taskRepository) Delete(ctx context.Context, ownerID, taskID uint64) (int64, error) {
	result := t.db.WithContext(ctx).Where("id = ? AND owner_id = ?", taskID, ownerID).Delete(&tasksvc.Task{})
	if result.Error != nil {
		return 0, &tasksvc.StorageError{Op: "delete task", Err: result.Error}
	}

	return result.RowsAffected, nil
}

func (t taskRepository) UpdateStatus(ctx context.Context, task tasksvc.Task) (tasksvc.Task, bool, error) {
	result := t.db.WithContext(ctx).
		Model(&tasksvc.Task{}).
		Where("id = ? AND owner_id = ?", task.ID, task.OwnerID).
		Update("status", task.Status)
	if result.Error != nil {
		return tasksvc.Task{}, false, &tasksvc.StorageError{Op: "update task status", Err: result.Error}
	}

	return task, result.RowsAffected > 0, nil
}

// searchClause matches a case-sensitive substring of title or description.
// LIKE is avoided: sqlite folds ASCII case and both dialects treat % and _
// in the term as wildcards.
func searchClause(db *stdgorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "(strpos(title, ?) > 0 OR strpos(description, ?) > 0)"
	}
	return "(instr(title, ?) > 0 OR instr(description, ?) > 0)"
}
