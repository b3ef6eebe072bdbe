package tropipay

import (
	"context"
	"strings"
	"sync"
)

// WorkflowState is a stage of a transfer attempt.
type WorkflowState string

const (
	StateDrafted              WorkflowState = "drafted"
	StateSimulated            WorkflowState = "simulated"
	StateAwaitingSecondFactor WorkflowState = "awaiting_second_factor"
	StateExecuted             WorkflowState = "executed"
	StateFailed               WorkflowState = "failed"
)

// Workflow drives one transfer attempt through simulate, the optional second
// factor and execute. Executed and Failed are terminal.
type Workflow struct {
	transfers *TransfersService

	mu         sync.Mutex
	request    TransferRequest
	state      WorkflowState
	simulation *Simulation
	result     *TransferResult
	err        error
}

// NewWorkflow starts a transfer attempt in the Drafted state.
func (s *TransfersService) NewWorkflow(req TransferRequest) *Workflow {
	return &Workflow{transfers: s, request: req.Normalize(), state: StateDrafted}
}

// State returns the current stage.
func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Request returns the normalized transfer parameters.
func (w *Workflow) Request() TransferRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.request
}

// Simulation returns the simulation the next execute will use, if any.
func (w *Workflow) Simulation() *Simulation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.simulation
}

// Result returns the transfer result once executed.
func (w *Workflow) Result() *TransferResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Err returns the error that moved the workflow to Failed.
func (w *Workflow) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Update replaces the transfer parameters. Any previous simulation is dropped
// and the workflow returns to Drafted.
func (w *Workflow) Update(req TransferRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal() {
		return ErrInvalidTransition
	}
	w.request = req.Normalize()
	w.simulation = nil
	w.state = StateDrafted
	return nil
}

// Simulate computes a fresh quote. It may be repeated before execution; each
// call replaces the previous simulation.
func (w *Workflow) Simulate(ctx context.Context) (*Simulation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal() {
		return nil, ErrInvalidTransition
	}

	sim, err := w.transfers.Simulate(ctx, w.request)
	if err != nil {
		w.fail(err)
		return nil, err
	}
	w.simulation = sim
	if sim.Requires2FA {
		w.state = StateAwaitingSecondFactor
	} else {
		w.state = StateSimulated
	}
	return sim, nil
}

// Execute sends the simulated transfer. In AwaitingSecondFactor a factor code
// is mandatory; a missing code leaves the workflow waiting.
func (w *Workflow) Execute(ctx context.Context, factor *SecondFactor) (*TransferResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateDrafted:
		return nil, ErrNotSimulated
	case StateExecuted, StateFailed:
		return nil, ErrInvalidTransition
	case StateAwaitingSecondFactor:
		if factor == nil || cleanSecurityCode(factor.Code) == "" {
			verr := NewValidationError("a second factor code is required for this transfer")
			verr.Add("securityCode", "is required")
			return nil, verr
		}
	}

	if factor != nil && strings.TrimSpace(factor.Type) == "" {
		f := *factor
		f.Type = FactorTypeFor(w.transfers.client.Auth.Profile())
		factor = &f
	}

	result, err := w.transfers.Execute(ctx, w.request, w.simulation, factor)
	w.simulation = nil
	if err != nil {
		w.fail(err)
		return nil, err
	}
	w.result = result
	w.state = StateExecuted
	return result, nil
}

func (w *Workflow) terminal() bool {
	return w.state == StateExecuted || w.state == StateFailed
}

func (w *Workflow) fail(err error) {
	w.state = StateFailed
	w.err = err
}
