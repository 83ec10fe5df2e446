package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"notification_relay/relay"
)

// ErrCannotSubmit is returned by Submit when the submit control is disabled.
var ErrCannotSubmit = errors.New("form: submit disabled (empty field or submission in flight)")

// State is what a view needs to draw the form.
type State struct {
	Title      string
	Body       string
	Submitting bool
	CanSubmit  bool
}

// Toast is a transient, non-blocking notification.
type Toast struct {
	Message string
	IsError bool
}

// View renders form state and toasts. Render is called after every state change.
type View interface {
	Render(State)
	Toast(Toast)
}

// Submitter hands a draft to the dispatch endpoint. It must always return an
// outcome; transport problems become failed outcomes.
type Submitter interface {
	Submit(ctx context.Context, draft relay.Draft) relay.Outcome
}

// Controller owns one draft and at most one in-flight submission.
type Controller struct {
	submitter Submitter
	view      View

	mu       sync.Mutex
	draft    relay.Draft
	inFlight bool
}

func NewController(submitter Submitter, view View) *Controller {
	if view == nil {
		view = nopView{}
	}
	c := &Controller{submitter: submitter, view: view}
	c.view.Render(c.State())
	return c
}

func (c *Controller) UpdateTitle(v string) {
	c.mu.Lock()
	c.draft.Title = v
	st := c.stateLocked()
	c.mu.Unlock()
	c.view.Render(st)
}

func (c *Controller) UpdateBody(v string) {
	c.mu.Lock()
	c.draft.Body = v
	st := c.stateLocked()
	c.mu.Unlock()
	c.view.Render(st)
}

func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Submit sends the current draft once and waits for its outcome. On success
// the fields are cleared; on failure they are kept so no input is lost.
func (c *Controller) Submit(ctx context.Context) (relay.Outcome, error) {
	c.mu.Lock()
	if !c.canSubmitLocked() {
		c.mu.Unlock()
		return relay.Outcome{}, ErrCannotSubmit
	}
	c.inFlight = true
	draft := c.draft
	st := c.stateLocked()
	c.mu.Unlock()
	c.view.Render(st)

	outcome := c.await(ctx, draft)

	c.mu.Lock()
	c.inFlight = false
	if outcome.Success {
		c.draft = relay.Draft{}
	}
	st = c.stateLocked()
	c.mu.Unlock()

	c.view.Render(st)
	c.view.Toast(Toast{Message: outcome.Message, IsError: !outcome.Success})
	return outcome, nil
}

// await guarantees an outcome even if the submitter misbehaves.
func (c *Controller) await(ctx context.Context, draft relay.Draft) (out relay.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = relay.Failed(fmt.Sprintf("submit panic: %v", r))
		}
	}()
	out = c.submitter.Submit(ctx, draft)
	if out.Message == "" {
		if out.Success {
			out.Message = relay.SuccessMessage
		} else {
			out.Message = relay.FailureMessage
		}
	}
	return out
}

func (c *Controller) canSubmitLocked() bool {
	return c.draft.Title != "" && c.draft.Body != "" && !c.inFlight
}

func (c *Controller) stateLocked() State {
	return State{
		Title:      c.draft.Title,
		Body:       c.draft.Body,
		Submitting: c.inFlight,
		CanSubmit:  c.canSubmitLocked(),
	}
}

type nopView struct{}

func (nopView) Render(State) {}
func (nopView) Toast(Toast)  {}
