package wizard

import (
	"errors"
	"fmt"
)

var ErrStepOutOfRange = errors.New("step out of range")

// Step is the navigation view of one section.
type Step struct {
	Number  int    `json:"number"`
	Label   string `json:"label"`
	Section string `json:"section"`
	Valid   bool   `json:"valid"`
}

// Move is the result of a navigation attempt.
type Move struct {
	Moved        bool         `json:"moved"`
	From         int          `json:"from"`
	To           int          `json:"to"`
	Errors       []FieldError `json:"errors,omitempty"`
	FirstInvalid string       `json:"firstInvalid,omitempty"`
}

// Controller gates navigation between the sections of a Form. Moving
// forward requires the current section to be valid; moving back never
// re-validates and never clears any section.
type Controller struct {
	form    *Form
	current int
	showErr bool
}

// NewController starts at step 1.
func NewController(form *Form) *Controller {
	return &Controller{form: form, current: 1}
}

// resume rebuilds a controller at a saved position.
func resume(form *Form, current int, showErr bool) *Controller {
	c := &Controller{form: form, current: current, showErr: showErr}
	if c.current < 1 || c.current > c.Total() {
		c.current = 1
	}
	return c
}

func (c *Controller) Form() *Form { return c.form }

// Current returns the 1-based current step.
func (c *Controller) Current() int { return c.current }

// Total returns the number of steps.
func (c *Controller) Total() int { return len(c.form.sections) }

// CurrentSection returns the section bound to the current step.
func (c *Controller) CurrentSection() *SectionState {
	return c.form.sections[c.current-1]
}

// ShowValidationError reports whether the last forward move was refused.
func (c *Controller) ShowValidationError() bool { return c.showErr }

// Changed is called after any edit; it clears the validation-error flag.
func (c *Controller) Changed() { c.showErr = false }

// Progress returns the completion percentage, 0 on the first step and 100
// on the last.
func (c *Controller) Progress() float64 {
	total := c.Total()
	if total <= 1 {
		return 100
	}
	return float64(c.current-1) / float64(total-1) * 100
}

// Steps returns every step with its current validity.
func (c *Controller) Steps() []Step {
	out := make([]Step, 0, len(c.form.sections))
	for i, s := range c.form.sections {
		out = append(out, Step{
			Number:  i + 1,
			Label:   s.def.Label,
			Section: s.def.Name,
			Valid:   s.Valid(),
		})
	}
	return out
}

// ValidateCurrent touches the current section and returns its failures.
func (c *Controller) ValidateCurrent() []FieldError {
	s := c.CurrentSection()
	s.Touch()
	return s.Validate()
}

// GoToStep moves to target. Going back always succeeds. Going forward, or
// staying, validates the current section first and refuses to move when it
// is invalid, setting the validation-error flag.
func (c *Controller) GoToStep(target int) (Move, error) {
	if target < 1 || target > c.Total() {
		return Move{}, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, target, c.Total())
	}
	mv := Move{From: c.current, To: c.current}
	if target < c.current {
		c.current = target
		c.showErr = false
		mv.Moved, mv.To = true, target
		return mv, nil
	}

	if errs := c.ValidateCurrent(); len(errs) > 0 {
		c.showErr = true
		mv.Errors = errs
		mv.FirstInvalid = errs[0].Field
		return mv, nil
	}
	c.showErr = false
	c.current = target
	mv.Moved, mv.To = true, target
	return mv, nil
}

// NextStep moves to the following step.
func (c *Controller) NextStep() (Move, error) {
	return c.GoToStep(c.current + 1)
}

// PrevStep moves to the preceding step.
func (c *Controller) PrevStep() (Move, error) {
	return c.GoToStep(c.current - 1)
}
