package workflows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/sound-buttons/pipeline/internal/dbosruntime"
	"github.com/sound-buttons/pipeline/internal/metrics"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

// WorkflowContext carries one instance's execution state into a workflow.
// DBOSCtx is nil when running in-process (standalone mode): steps then
// execute directly instead of being checkpointed.
type WorkflowContext struct {
	Ctx     context.Context
	DBOSCtx dbos.DBOSContext
	Request pipeline.Request
	Logger  *slog.Logger
}

// WorkflowResult is the serializable outcome of one workflow instance.
type WorkflowResult struct {
	Success  bool              `json:"success"`
	Failure  FailureKind       `json:"failure,omitempty"`
	Message  string            `json:"message,omitempty"`
	Filename string            `json:"filename,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}

// Workflow is a processing pipeline registered under a job name.
type Workflow interface {
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)
	Name() string
}

// WorkflowRunner executes workflows, either synchronously or enqueued
// through DBOS for durable execution.
type WorkflowRunner struct {
	workflows   map[string]Workflow
	logger      *slog.Logger
	dbosRuntime *dbosruntime.Runtime
}

// NewWorkflowRunner creates a runner. A nil runtime disables durable
// execution; Run still works synchronously.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime, logger *slog.Logger) *WorkflowRunner {
	if logger == nil {
		logger = slog.Default()
	}
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		logger:      logger,
		dbosRuntime: dbosRuntime,
	}
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}
	return runner
}

// Register registers a workflow under a job name.
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Run executes a workflow synchronously in the calling process.
func (r *WorkflowRunner) Run(ctx context.Context, job string, req pipeline.Request) (*WorkflowResult, error) {
	workflow, ok := r.workflows[job]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	metrics.WorkflowsStarted.Inc()
	wctx := &WorkflowContext{
		Ctx:     ctx,
		Request: req,
		Logger:  r.logger.With("instance_id", req.InstanceID),
	}
	result, err := workflow.Execute(wctx)
	observeOutcome(result, err)
	return result, err
}

// RunAsync enqueues a durable workflow instance. The request's instance id
// doubles as the DBOS workflow id, giving exactly-once admission.
func (r *WorkflowRunner) RunAsync(ctx context.Context, job string, req pipeline.Request) (string, error) {
	if r.dbosRuntime == nil {
		return "", errors.New("durable execution requires the DBOS runtime")
	}

	input := workflowInput{Job: job, Request: req}
	handle, err := dbos.RunWorkflow[workflowInput, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		input,
		dbos.WithWorkflowID(req.InstanceID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", err
	}
	metrics.WorkflowsStarted.Inc()
	return handle.GetWorkflowID(), nil
}

type workflowInput struct {
	Job     string           `json:"job"`
	Request pipeline.Request `json:"request"`
}

// executeWorkflowDBOS is the single registered DBOS workflow function; it
// dispatches on the job name so every pipeline shares one durable entry
// point. DBOS checkpoints each step and replays completed ones on resume.
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, input workflowInput) (*WorkflowResult, error) {
	workflow, ok := r.workflows[input.Job]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	wctx := &WorkflowContext{
		DBOSCtx: dbosCtx,
		Request: input.Request,
		Logger:  r.logger.With("instance_id", input.Request.InstanceID),
	}
	result, err := workflow.Execute(wctx)
	observeOutcome(result, err)
	return result, err
}

// GetStatus reads a workflow instance's durable status record.
func (r *WorkflowRunner) GetStatus(ctx context.Context, instanceID string) (*dbosruntime.WorkflowStatusInfo, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires the DBOS runtime")
	}
	return r.dbosRuntime.GetWorkflowStatus(ctx, instanceID)
}

// runStep executes fn as a durable checkpoint when a DBOS context is
// present, and directly otherwise. The orchestrator body stays pure with
// respect to replay: every clock read, random id, and I/O call belongs
// inside fn.
func runStep[R any](wctx *WorkflowContext, name string, fn func(ctx context.Context) (R, error)) (R, error) {
	timed := func(ctx context.Context) (R, error) {
		started := time.Now()
		out, err := fn(ctx)
		metrics.ObserveStep(name, time.Since(started))
		return out, err
	}
	if wctx.DBOSCtx != nil {
		return dbos.RunAsStep(wctx.DBOSCtx, timed, dbos.WithStepName(name))
	}
	return timed(wctx.Ctx)
}

func observeOutcome(result *WorkflowResult, err error) {
	switch {
	case err != nil:
		metrics.WorkflowsFinished.WithLabelValues(string(KindOf(err))).Inc()
	case result != nil && !result.Success:
		metrics.WorkflowsFinished.WithLabelValues(string(result.Failure)).Inc()
	default:
		metrics.WorkflowsFinished.WithLabelValues("success").Inc()
	}
}
