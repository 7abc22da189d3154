package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution under
// <root>/executions.
type ExecutionRepository struct {
	persistence *Persistence
}

func (r *ExecutionRepository) dir() string {
	return filepath.Join(r.persistence.root, "executions")
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.write(execution)
}

func (r *ExecutionRepository) write(execution *models.Execution) error {
	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	path := filepath.Join(r.dir(), execution.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.read(id)
}

func (r *ExecutionRepository) read(id string) (*models.Execution, error) {
	data, err := os.ReadFile(filepath.Join(r.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("read", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) all() ([]*models.Execution, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		execution, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (r *ExecutionRepository) ByIdempotencyKey(_ context.Context, key string) (*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, execution := range all {
		if execution.IdempotencyKey == key {
			return execution, nil
		}
	}

	return nil, persistence.ErrExecutionNotFound
}

func (r *ExecutionRepository) DueForResume(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	var due []*models.Execution

	for _, execution := range all {
		if execution.IsDue(now) {
			due = append(due, execution)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].WakeAt.Before(*due[j].WakeAt) })

	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}

	return due, nil
}

// Claim transitions waiting→running under the process mutex. Concurrent
// claimants within the process see ErrClaimConflict for the loser.
func (r *ExecutionRepository) Claim(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("Claim", id, err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution, err := r.read(id)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionWaiting {
		return nil, persistence.NewExecutionError("Claim", id, persistence.ErrClaimConflict)
	}

	execution.MarkRunning()

	if err := r.write(execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus, limit, offset int) ([]*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	var matched []*models.Execution

	for _, execution := range all {
		if execution.Status == status {
			matched = append(matched, execution)
		}
	}

	return pageExecutions(matched, limit, offset), nil
}

func (r *ExecutionRepository) ListByRule(_ context.Context, ruleID string, limit, offset int) ([]*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	var matched []*models.Execution

	for _, execution := range all {
		if execution.RuleID == ruleID {
			matched = append(matched, execution)
		}
	}

	return pageExecutions(matched, limit, offset), nil
}

func pageExecutions(executions []*models.Execution, limit, offset int) []*models.Execution {
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	if offset >= len(executions) {
		return nil
	}

	executions = executions[offset:]
	if limit > 0 && limit < len(executions) {
		executions = executions[:limit]
	}

	return executions
}
