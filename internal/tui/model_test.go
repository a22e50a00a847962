package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/poller"
)

type fakeActions struct {
	mu        sync.Mutex
	calls     []string
	deployErr error
}

func (f *fakeActions) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeActions) Open(context.Context) { f.record("open") }
func (f *fakeActions) Refresh()             { f.record("refresh") }

func (f *fakeActions) Deploy(context.Context) error {
	f.record("deploy")
	return f.deployErr
}

func (f *fakeActions) Extend(context.Context) error {
	f.record("extend")
	return nil
}

func (f *fakeActions) Terminate(context.Context) error {
	f.record("terminate")
	return nil
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T, want Model", next)
	}
	return nm, cmd
}

func openedModel(t *testing.T, a *fakeActions, o poller.Outcome) Model {
	t.Helper()
	m := New(context.Background(), "web/login", a)
	m, _ = update(t, m, openedMsg{})
	m, _ = update(t, m, outcomeMsg{outcome: o})
	return m
}

func TestModel_InitOpens(t *testing.T) {
	a := &fakeActions{}
	m := New(context.Background(), "web/login", a)

	msg := m.Init()()
	if _, ok := msg.(openedMsg); !ok {
		t.Fatalf("Init() message = %T, want openedMsg", msg)
	}
	if len(a.calls) != 1 || a.calls[0] != "open" {
		t.Errorf("calls = %v, want [open]", a.calls)
	}
}

func TestModel_KeysFollowState(t *testing.T) {
	running := poller.Outcome{Kind: poller.KindRunning, Snapshot: deployer.Snapshot{
		Status:         deployer.StatusRunning,
		ConnectionInfo: "nc host 1337",
		ExtensionsLeft: intPtr(2),
		Unique:         boolPtr(false),
	}}
	notDeployed := poller.Outcome{Kind: poller.KindNotDeployed}
	starting := poller.Outcome{Kind: poller.KindStarting}

	tests := []struct {
		name    string
		outcome poller.Outcome
		key     rune
		want    string
	}{
		{"deploy when not deployed", notDeployed, 'd', "deploy"},
		{"no deploy when running", running, 'd', ""},
		{"extend when running", running, 'e', "extend"},
		{"no extend when not deployed", notDeployed, 'e', ""},
		{"terminate when running", running, 'x', "terminate"},
		{"nothing while starting", starting, 'x', ""},
		{"refresh always", starting, 'r', "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeActions{}
			m := openedModel(t, a, tt.outcome)

			_, cmd := update(t, m, keyPress(tt.key))
			if tt.want == "" {
				if cmd != nil {
					t.Fatalf("key %q returned a command, want none", tt.key)
				}
				return
			}
			if cmd == nil {
				t.Fatalf("key %q returned no command", tt.key)
			}
			cmd()
			if len(a.calls) != 1 || a.calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", a.calls, tt.want)
			}
		})
	}
}

func TestModel_TerminateNeedsDeletable(t *testing.T) {
	a := &fakeActions{}
	m := openedModel(t, a, poller.Outcome{Kind: poller.KindRunning, Snapshot: deployer.Snapshot{
		Status: deployer.StatusRunning,
		Unique: boolPtr(true),
	}})

	if _, cmd := update(t, m, keyPress('x')); cmd != nil {
		t.Error("terminate allowed on a unique challenge")
	}
}

func TestModel_OneActionAtATime(t *testing.T) {
	a := &fakeActions{}
	m := openedModel(t, a, poller.Outcome{Kind: poller.KindNotDeployed})

	m, cmd := update(t, m, keyPress('d'))
	if cmd == nil {
		t.Fatal("deploy returned no command")
	}
	if _, again := update(t, m, keyPress('d')); again != nil {
		t.Error("second deploy started while the first is running")
	}

	m, _ = update(t, m, cmd())
	if m.busy != "" {
		t.Errorf("busy = %q after completion, want empty", m.busy)
	}
}

func TestModel_ActionErrorShown(t *testing.T) {
	a := &fakeActions{deployErr: errors.New("boom")}
	m := openedModel(t, a, poller.Outcome{Kind: poller.KindNotDeployed})

	m, cmd := update(t, m, keyPress('d'))
	m, _ = update(t, m, cmd())

	if !strings.Contains(m.View(), "deploy failed: boom") {
		t.Errorf("View() does not show the error:\n%s", m.View())
	}
}

func TestModel_CancelledActionIsSilent(t *testing.T) {
	a := &fakeActions{deployErr: context.Canceled}
	m := openedModel(t, a, poller.Outcome{Kind: poller.KindNotDeployed})

	m, cmd := update(t, m, keyPress('d'))
	m, _ = update(t, m, cmd())
	if m.notice != "" {
		t.Errorf("notice = %q, want empty", m.notice)
	}
}

func TestModel_KeysIgnoredBeforeOpen(t *testing.T) {
	a := &fakeActions{}
	m := New(context.Background(), "web/login", a)
	m, _ = update(t, m, outcomeMsg{outcome: poller.Outcome{Kind: poller.KindNotDeployed}})

	if _, cmd := update(t, m, keyPress('d')); cmd != nil {
		t.Error("deploy allowed before Open returned")
	}
}

func TestModel_Quit(t *testing.T) {
	m := New(context.Background(), "web/login", &fakeActions{})
	_, cmd := update(t, m, keyPress('q'))
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit command did not return tea.QuitMsg")
	}
}

func TestModel_View(t *testing.T) {
	a := &fakeActions{}
	m := New(context.Background(), "web/login", a)
	if !strings.Contains(m.View(), "Loading...") {
		t.Errorf("initial View() missing loading text:\n%s", m.View())
	}

	m, _ = update(t, m, openedMsg{})
	m, _ = update(t, m, outcomeMsg{outcome: poller.Outcome{Kind: poller.KindRunning, Snapshot: deployer.Snapshot{
		Status:         deployer.StatusRunning,
		ConnectionInfo: "nc host 1337",
		ExtensionsLeft: intPtr(1),
		ExtensionTime:  "30m",
	}}})
	m, _ = update(t, m, timeLeftMsg{remaining: "00:42:00"})

	view := m.View()
	for _, want := range []string{"web/login", "Running", "nc host 1337", "00:42:00", "1 extension left", "add time"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestRenderer_Forwards(t *testing.T) {
	r := NewRenderer()
	r.Render(poller.Outcome{Kind: poller.KindRunning})

	var got []tea.Msg
	r.AttachFunc(func(msg tea.Msg) { got = append(got, msg) })
	r.Loading()
	r.Render(poller.Outcome{Kind: poller.KindNotDeployed})
	r.TimeLeft("00:01:00")

	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if o, ok := got[1].(outcomeMsg); !ok || o.outcome.Kind != poller.KindNotDeployed {
		t.Errorf("second message = %#v, want not_deployed outcome", got[1])
	}
	if tl, ok := got[2].(timeLeftMsg); !ok || tl.remaining != "00:01:00" {
		t.Errorf("third message = %#v, want time left", got[2])
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		o    poller.Outcome
		want string
	}{
		{"running", poller.Outcome{Kind: poller.KindRunning, Snapshot: deployer.Snapshot{ConnectionInfo: "nc h 1", ExtensionsLeft: intPtr(2)}}, "Running: nc h 1 (2 extensions left)"},
		{"message", poller.Outcome{Kind: poller.KindRejected, Message: "Invalid challenge."}, "Rejected: Invalid challenge."},
		{"bare", poller.Outcome{Kind: poller.KindNotDeployed}, "Not deployed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.o); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}
