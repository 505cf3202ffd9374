package ui

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"todo-app/domain"
	"todo-app/todo"
)

// ErrMounted is returned by Mount when the controller already holds a feed.
var ErrMounted = errors.New("controller already mounted")

// Service is the todo API the controller drives.
type Service interface {
	Add(ctx context.Context, f domain.TodoFields) (string, bool)
	Update(ctx context.Context, id string, f domain.TodoFields) bool
	Delete(ctx context.Context, id string, mirror todo.Mirror) bool
	Subscribe(ctx context.Context) (*todo.Feed, error)
}

// Mode selects what Submit does with the pending fields.
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Outcome is the result of a Submit.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeAdded
	OutcomeUpdated
)

// Message is the notice shown to the user after a successful submit.
func (o Outcome) Message() string {
	switch o {
	case OutcomeAdded:
		return "Todo added successfully!"
	case OutcomeUpdated:
		return "Todo updated successfully!"
	}
	return ""
}

// State is a copy of everything a presentation layer renders.
type State struct {
	Title    string
	Details  string
	DueDate  string
	Todos    []domain.Todo
	Selected string
	Mode     Mode
}

// Fields returns the pending form fields.
func (s State) Fields() domain.TodoFields {
	return domain.TodoFields{Title: s.Title, Details: s.Details, DueDate: s.DueDate}
}

// Controller holds the form and list state of one screen and keeps the list
// in sync with the live todo feed. It is safe for concurrent use.
type Controller struct {
	svc    Service
	logger *log.Entry

	mu      sync.Mutex
	state   State
	feed    *todo.Feed
	done    chan struct{}
	changes chan struct{}
}

// NewController creates an unmounted controller in create mode.
func NewController(svc Service, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		svc:     svc,
		logger:  logger.WithField("component", "ui"),
		changes: make(chan struct{}, 1),
	}
}

// Changes signals after the rendered state changed. Bursts collapse into a
// single signal.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Mount opens the live feed. Every snapshot replaces the todo list.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed != nil {
		return ErrMounted
	}
	feed, err := c.svc.Subscribe(ctx)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	c.feed, c.done = feed, done
	go func() {
		defer close(done)
		for todos := range feed.C {
			c.apply(todos)
		}
	}()
	return nil
}

// Unmount closes the live feed. Calls in flight are not cancelled.
func (c *Controller) Unmount() {
	c.mu.Lock()
	feed, done := c.feed, c.done
	c.feed, c.done = nil, nil
	c.mu.Unlock()
	if feed == nil {
		return
	}
	feed.Close()
	<-done
}

// Mounted reports whether a feed is open.
func (c *Controller) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed != nil
}

func (c *Controller) apply(todos []domain.Todo) {
	c.mu.Lock()
	c.state.Todos = todos
	c.mu.Unlock()
	c.notify()
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Todos = append([]domain.Todo(nil), c.state.Todos...)
	return s
}

func (c *Controller) SetTitle(v string) {
	c.mu.Lock()
	c.state.Title = v
	c.mu.Unlock()
}

func (c *Controller) SetDetails(v string) {
	c.mu.Lock()
	c.state.Details = v
	c.mu.Unlock()
}

func (c *Controller) SetDueDate(v string) {
	c.mu.Lock()
	c.state.DueDate = v
	c.mu.Unlock()
}

// SetFields replaces all pending fields at once.
func (c *Controller) SetFields(f domain.TodoFields) {
	c.mu.Lock()
	c.state.Title, c.state.Details, c.state.DueDate = f.Title, f.Details, f.DueDate
	c.mu.Unlock()
}

// Edit selects the listed todo with the given id and loads its fields into
// the form. It reports false when the id is not in the current list.
func (c *Controller) Edit(id string) bool {
	c.mu.Lock()
	found := false
	for _, t := range c.state.Todos {
		if t.ID == id {
			c.state.Selected = id
			c.state.Mode = ModeEdit
			c.state.Title, c.state.Details, c.state.DueDate = t.Title, t.Details, t.DueDate
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify()
	}
	return found
}

// CancelEdit drops the selection and clears the form.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) reset() {
	c.state.Title, c.state.Details, c.state.DueDate = "", "", ""
	c.state.Selected = ""
	c.state.Mode = ModeCreate
}

// Submit updates the selected todo in edit mode and adds a new one otherwise.
// On success the form is cleared and the controller returns to create mode.
// On failure the state is left untouched.
func (c *Controller) Submit(ctx context.Context) Outcome {
	c.mu.Lock()
	mode, id, fields := c.state.Mode, c.state.Selected, c.state.Fields()
	c.mu.Unlock()

	outcome := OutcomeFailed
	if mode == ModeEdit {
		if c.svc.Update(ctx, id, fields) {
			outcome = OutcomeUpdated
		}
	} else if _, ok := c.svc.Add(ctx, fields); ok {
		outcome = OutcomeAdded
	}
	if outcome == OutcomeFailed {
		c.logger.WithField("mode", mode.String()).Debug("submit failed")
		return outcome
	}

	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	c.notify()
	return outcome
}

// Delete removes the todo remotely and drops it from the list on success.
func (c *Controller) Delete(ctx context.Context, id string) bool {
	return c.svc.Delete(ctx, id, c)
}

// Remove drops a todo from the local list ahead of the next snapshot.
func (c *Controller) Remove(id string) {
	c.mu.Lock()
	kept := c.state.Todos[:0:0]
	for _, t := range c.state.Todos {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	c.state.Todos = kept
	c.mu.Unlock()
	c.notify()
}
