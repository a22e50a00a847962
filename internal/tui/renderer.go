package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jpalmerr/zync/internal/poller"
)

// Messages sent by [Renderer].
type (
	loadingMsg  struct{}
	outcomeMsg  struct{ outcome poller.Outcome }
	timeLeftMsg struct{ remaining string }
)

// Renderer implements poller.Renderer by sending messages to a Bubble Tea
// program. Calls made before [Renderer.Attach] are dropped.
type Renderer struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewRenderer creates a detached [Renderer].
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Attach routes updates to p.
func (r *Renderer) Attach(p *tea.Program) {
	r.AttachFunc(p.Send)
}

// AttachFunc routes updates to send.
func (r *Renderer) AttachFunc(send func(tea.Msg)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.send = send
}

func (r *Renderer) Loading() {
	r.dispatch(loadingMsg{})
}

func (r *Renderer) Render(o poller.Outcome) {
	r.dispatch(outcomeMsg{outcome: o})
}

func (r *Renderer) TimeLeft(remaining string) {
	r.dispatch(timeLeftMsg{remaining: remaining})
}

func (r *Renderer) dispatch(msg tea.Msg) {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send != nil {
		send(msg)
	}
}
