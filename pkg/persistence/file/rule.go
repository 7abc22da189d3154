package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// RuleRepository stores one JSON file per rule under <root>/rules.
type RuleRepository struct {
	persistence *Persistence
}

func (r *RuleRepository) dir() string {
	return filepath.Join(r.persistence.root, "rules")
}

// validateID guards against path traversal through aggregate ids.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("id contains invalid characters")
	}

	return nil
}

func (r *RuleRepository) Save(_ context.Context, rule *models.AutomationRule) error {
	if err := validateID(rule.ID); err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.write(rule)
}

func (r *RuleRepository) write(rule *models.AutomationRule) error {
	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.ID, err)
	}

	path := filepath.Join(r.dir(), rule.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write rule %s: %w", rule.ID, err)
	}

	return nil
}

func (r *RuleRepository) ByID(_ context.Context, id string) (*models.AutomationRule, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRuleError("ByID", id, err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.read(id)
}

func (r *RuleRepository) read(id string) (*models.AutomationRule, error) {
	data, err := os.ReadFile(filepath.Join(r.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRuleError("read", id, persistence.ErrRuleNotFound)
		}

		return nil, fmt.Errorf("failed to read rule %s: %w", id, err)
	}

	var rule models.AutomationRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule %s: %w", id, err)
	}

	return &rule, nil
}

func (r *RuleRepository) all() ([]*models.AutomationRule, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	rules := make([]*models.AutomationRule, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		rule, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	return rules, nil
}

func (r *RuleRepository) ActiveByTriggerType(_ context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	var matched []*models.AutomationRule

	for _, rule := range all {
		if rule.Active && rule.TriggerType == triggerType {
			matched = append(matched, rule)
		}
	}

	return matched, nil
}

func (r *RuleRepository) List(_ context.Context, limit, offset int) ([]*models.AutomationRule, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	return pageRules(all, limit, offset), nil
}

func (r *RuleRepository) DueDateBased(_ context.Context, now time.Time) ([]*models.AutomationRule, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	var due []*models.AutomationRule

	for _, rule := range all {
		if rule.TriggerType == models.TriggerDateBased && rule.IsDue(now) {
			due = append(due, rule)
		}
	}

	return due, nil
}

func pageRules(rules []*models.AutomationRule, limit, offset int) []*models.AutomationRule {
	if offset >= len(rules) {
		return nil
	}

	rules = rules[offset:]
	if limit > 0 && limit < len(rules) {
		rules = rules[:limit]
	}

	return rules
}
