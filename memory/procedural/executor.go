package procedural

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	memerrors "github.com/hrygo/memtier/internal/errors"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	// StatusCancelled is a defined state with no producing transition here;
	// it is reachable only by external intervention.
	StatusCancelled ExecutionStatus = "cancelled"
)

// StepStatus is the lifecycle state of a single execution step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ExecutionStep mirrors one of the pattern's workflow steps with its own
// timing and result.
type ExecutionStep struct {
	Order      int            `json:"order"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     StepStatus     `json:"status"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Execution is one run of a pattern. Finalized executions are immutable.
type Execution struct {
	ID            string          `json:"id"`
	PatternID     string          `json:"pattern_id"`
	UserID        string          `json:"user_id"`
	Status        ExecutionStatus `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	Input         map[string]any  `json:"input,omitempty"`
	Output        map[string]any  `json:"output,omitempty"`
	Steps         []ExecutionStep `json:"steps,omitempty"`
	ExecutionTime int64           `json:"execution_time"` // milliseconds
	ResourceUsage map[string]any  `json:"resource_usage,omitempty"`
}

var templatePlaceholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ExecutePattern runs a pattern against an input. Response actions render
// the template; workflow actions run each step in declared order. The
// execution is tracked in the active set while running, and the pattern's
// performance block is updated whether the run completes or fails. Dispatch
// errors are propagated to the caller; the failed execution stays readable
// via GetExecution.
func (s *Store) ExecutePattern(ctx context.Context, userID, patternID string, input map[string]any) (*Execution, error) {
	pattern, err := s.GetPattern(ctx, userID, patternID)
	if err != nil {
		return nil, err
	}
	if pattern == nil {
		return nil, memerrors.NotFound("procedural pattern", patternID)
	}

	execution := &Execution{
		ID:        uuid.NewString(),
		PatternID: patternID,
		UserID:    userID,
		Status:    StatusRunning,
		StartTime: time.Now(),
		Input:     input,
	}
	if err := s.saveExecution(ctx, execution); err != nil {
		return nil, err
	}
	if err := s.store.SAdd(ctx, s.activeExecutionsKey(userID), execution.ID); err != nil {
		return nil, memerrors.StoreUnavailable("track active execution", err)
	}

	dispatchErr := s.dispatch(execution, pattern, input)

	now := time.Now()
	execution.EndTime = &now
	execution.ExecutionTime = now.Sub(execution.StartTime).Milliseconds()
	if dispatchErr != nil {
		execution.Status = StatusFailed
	} else {
		execution.Status = StatusCompleted
	}

	if err := s.updatePerformance(ctx, pattern, dispatchErr == nil, execution.ExecutionTime); err != nil {
		return nil, err
	}
	if err := s.saveExecution(ctx, execution); err != nil {
		return nil, err
	}
	if err := s.store.SRem(ctx, s.activeExecutionsKey(userID), execution.ID); err != nil {
		return nil, memerrors.StoreUnavailable("untrack active execution", err)
	}

	if dispatchErr != nil {
		slog.Warn("pattern execution failed",
			"user_id", userID,
			"pattern_id", patternID,
			"execution_id", execution.ID,
			"error", dispatchErr)
		return nil, dispatchErr
	}

	return execution, nil
}

func (s *Store) dispatch(execution *Execution, pattern *Pattern, input map[string]any) error {
	switch pattern.Action.Type {
	case ActionResponse:
		execution.Output = map[string]any{
			"response": interpolateTemplate(pattern.Action.Template, input),
		}
		return nil
	case ActionWorkflow:
		return s.runWorkflowSteps(execution, pattern)
	default:
		return memerrors.InvalidArgument("unsupported action type: " + string(pattern.Action.Type))
	}
}

// runWorkflowSteps executes the pattern's steps in declared order. The unit
// of work per step is simulated; real side effects belong to the surrounding
// application.
func (s *Store) runWorkflowSteps(execution *Execution, pattern *Pattern) error {
	steps := make([]WorkflowStep, len(pattern.Action.Steps))
	copy(steps, pattern.Action.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	execution.Steps = make([]ExecutionStep, len(steps))
	for i, step := range steps {
		execution.Steps[i] = ExecutionStep{
			Order:      step.Order,
			Action:     step.Action,
			Parameters: step.Parameters,
			Status:     StepPending,
		}
	}

	for i := range execution.Steps {
		step := &execution.Steps[i]
		start := time.Now()
		step.Status = StepRunning
		step.StartTime = &start

		step.Result = map[string]any{"action": step.Action, "simulated": true}

		end := time.Now()
		step.Status = StepCompleted
		step.EndTime = &end
	}
	return nil
}

// interpolateTemplate replaces {{key}} placeholders with input values,
// leaving tokens for missing keys unresolved.
func interpolateTemplate(template string, input map[string]any) string {
	return templatePlaceholder.ReplaceAllStringFunc(template, func(token string) string {
		key := templatePlaceholder.FindStringSubmatch(token)[1]
		value, ok := input[key]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}

// updatePerformance folds one run into the pattern's running averages.
func (s *Store) updatePerformance(ctx context.Context, pattern *Pattern, success bool, executionTimeMs int64) error {
	perf := &pattern.Performance
	previousCount := perf.ExecutionCount
	previousSuccesses := perf.SuccessRate * float64(previousCount)

	perf.ExecutionCount++
	if success {
		previousSuccesses++
	}
	perf.SuccessRate = previousSuccesses / float64(perf.ExecutionCount)
	perf.AverageExecutionTime = (perf.AverageExecutionTime*float64(previousCount) + float64(executionTimeMs)) / float64(perf.ExecutionCount)
	now := time.Now()
	perf.LastExecuted = &now

	return s.savePattern(ctx, pattern)
}

func (s *Store) saveExecution(ctx context.Context, execution *Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return memerrors.StoreUnavailable("marshal execution", err)
	}
	key := s.executionKey(execution.UserID, execution.ID)
	if err := s.store.SetWithTTL(ctx, key, data, executionRetention); err != nil {
		return memerrors.StoreUnavailable("store execution", err)
	}
	return nil
}

// GetExecution returns an execution by id, or nil when absent.
func (s *Store) GetExecution(ctx context.Context, userID, executionID string) (*Execution, error) {
	data, ok, err := s.store.Get(ctx, s.executionKey(userID, executionID))
	if err != nil {
		return nil, memerrors.StoreUnavailable("get execution", err)
	}
	if !ok {
		return nil, nil
	}
	execution := &Execution{}
	if err := json.Unmarshal(data, execution); err != nil {
		return nil, memerrors.StoreUnavailable("unmarshal execution", err)
	}
	return execution, nil
}

// ActiveExecutionCount returns how many executions are currently tracked as
// running for a user.
func (s *Store) ActiveExecutionCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.SCard(ctx, s.activeExecutionsKey(userID))
	if err != nil {
		return 0, memerrors.StoreUnavailable("count active executions", err)
	}
	return count, nil
}
