// Package file provides file-based persistence for development and tests.
// One JSON document per aggregate, guarded by a process-wide mutex; the
// claim transition is atomic only within a single process.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dripflow/dripflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root       string
	mu         sync.Mutex
	rules      *RuleRepository
	executions *ExecutionRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.rules = &RuleRepository{persistence: p}
	p.executions = &ExecutionRepository{persistence: p}

	return p
}

func (p *Persistence) Rules() persistence.RuleRepository {
	return p.rules
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
