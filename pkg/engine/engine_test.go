package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/persistence/file"
)

// fakeDirectory is an in-memory contact directory recording mutations.
type fakeDirectory struct {
	mu      sync.Mutex
	subject *models.SubjectState
	members map[string][]string

	addTagCalls []string
	lookupErr   error
}

func newFakeDirectory(subject *models.SubjectState) *fakeDirectory {
	return &fakeDirectory{
		subject: subject,
		members: make(map[string][]string),
	}
}

func (d *fakeDirectory) ByID(_ context.Context, contactID string) (*models.SubjectState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lookupErr != nil {
		return nil, d.lookupErr
	}

	if d.subject == nil || d.subject.ID != contactID {
		return nil, errors.New("contact not found")
	}

	snapshot := *d.subject

	return &snapshot, nil
}

func (d *fakeDirectory) AddTag(_ context.Context, contactID, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.addTagCalls = append(d.addTagCalls, contactID+":"+tag)
	if d.subject != nil && d.subject.ID == contactID {
		d.subject.Tags = append(d.subject.Tags, tag)
	}

	return nil
}

func (d *fakeDirectory) RemoveTag(_ context.Context, contactID, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subject != nil && d.subject.ID == contactID {
		tags := d.subject.Tags[:0]

		for _, existing := range d.subject.Tags {
			if existing != tag {
				tags = append(tags, existing)
			}
		}

		d.subject.Tags = tags
	}

	return nil
}

func (d *fakeDirectory) AddToList(_ context.Context, contactID, listID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.members[listID] = append(d.members[listID], contactID)

	return nil
}

func (d *fakeDirectory) ListMembers(_ context.Context, listID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.members[listID], nil
}

// fakeGateway records sent messages and can be told to fail.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []models.EmailMessage
	failWith error
}

func (g *fakeGateway) SendEmail(_ context.Context, message models.EmailMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failWith != nil {
		return g.failWith
	}

	g.sent = append(g.sent, message)

	return nil
}

func (g *fakeGateway) IsHealthy(_ context.Context) bool {
	return true
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sent)
}

// fixture bundles the engine wired against file persistence and fakes.
type fixture struct {
	store       persistence.Persistence
	contacts    *fakeDirectory
	gateway     *fakeGateway
	clock       *clockwork.FakeClock
	interpreter *Interpreter
	matcher     *TriggerMatcher
	scheduler   *Scheduler
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	contacts := newFakeDirectory(&models.SubjectState{
		ID:    "contact-1",
		Email: "ada@example.com",
		Tags:  []string{"customer"},
	})
	gateway := &fakeGateway{}
	clock := clockwork.NewFakeClockAt(testStart)
	logger := slog.Default()
	tracer := otelhelper.NoopTracer()

	interpreter := NewInterpreter(store, contacts, gateway, nil, clock, tracer, config, logger)
	matcher := NewTriggerMatcher(store, interpreter, nil, nil, tracer, logger)
	scheduler := NewScheduler(store, interpreter, matcher, contacts, clock,
		SchedulerConfig{TickInterval: time.Minute, BatchSize: 10, Concurrency: 2}, logger)

	return &fixture{
		store:       store,
		contacts:    contacts,
		gateway:     gateway,
		clock:       clock,
		interpreter: interpreter,
		matcher:     matcher,
		scheduler:   scheduler,
	}
}

func (f *fixture) saveRule(t *testing.T, rule *models.AutomationRule) {
	t.Helper()
	require.NoError(t, f.store.Rules().Save(context.Background(), rule))
}

func (f *fixture) reload(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := f.store.Executions().ByID(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func welcomeRule() *models.AutomationRule {
	return &models.AutomationRule{
		ID:          "rule-welcome",
		Name:        "Welcome series",
		TriggerType: models.TriggerContactListJoined,
		Frequency:   models.FrequencyOnce,
		Active:      true,
		FlowJSON: []byte(`{
			"entry": "tag",
			"steps": [
				{"id": "tag", "kind": "action", "action": "add_tag", "params": {"tag": "welcome"}, "next": "pause"},
				{"id": "pause", "kind": "wait", "mode": "duration", "duration": "24h", "next": "email"},
				{"id": "email", "kind": "action", "action": "send_email", "params": {"template_id": "tpl-welcome"}, "next": "done"},
				{"id": "done", "kind": "end"}
			]
		}`),
	}
}

func branchingRule() *models.AutomationRule {
	return &models.AutomationRule{
		ID:          "rule-branch",
		Name:        "VIP check",
		TriggerType: models.TriggerContactTagAdded,
		Frequency:   models.FrequencyEveryTime,
		Active:      true,
		FlowJSON: []byte(`{
			"entry": "check",
			"steps": [
				{"id": "check", "kind": "condition", "condition": "has_tag", "params": {"tag": "vip"}, "on_true": "email", "on_false": "basic"},
				{"id": "email", "kind": "action", "action": "send_email", "params": {"template_id": "tpl-vip"}, "next": "done"},
				{"id": "basic", "kind": "action", "action": "add_tag", "params": {"tag": "standard"}, "next": "done"},
				{"id": "done", "kind": "end"}
			]
		}`),
	}
}
