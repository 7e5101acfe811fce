package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// DefaultMaxIterations bounds the number of reasoner turns.
const DefaultMaxIterations = 10

// DefaultRequestTimeout bounds a single reasoner request.
const DefaultRequestTimeout = 2 * time.Minute

// ErrStopped is returned when a stop signal ends the loop between turns.
var ErrStopped = errors.New("stop signal received")

// Checker re-runs the test command after each dispatch that may have
// changed the working tree.
type Checker interface {
	Run(ctx context.Context, command, dir string) (models.ValidationResult, error)
}

// Signals is polled between turns.
type Signals interface {
	ShouldStop() bool
	WaitWhilePaused(ctx context.Context) error
}

// Transcript receives the prompt log.
type Transcript interface {
	AppendPrompt(text string) error
}

// LoopConfig contains configuration for the agent loop.
type LoopConfig struct {
	Reasoner    Reasoner
	Tools       *ToolExecutor
	Checker     Checker
	RepoPath    string
	TestCommand string
	// Task is the statement handed to the reasoner as the first user message.
	Task string
	// MaxIterations is the turn budget. Zero means DefaultMaxIterations.
	MaxIterations int
	// RequestsPerMinute paces reasoner requests. Zero means unpaced.
	RequestsPerMinute int
	// RequestTimeout bounds each reasoner request.
	RequestTimeout time.Duration

	Signals    Signals
	Transcript Transcript
	Events     *report.EventLog
	Logger     *zap.Logger
}

// Loop drives the reasoner through tool dispatches until the test command
// passes or the turn budget is spent.
type Loop struct {
	cfg     LoopConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLoop creates a new agent loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Tools == nil {
		cfg.Tools = NewToolExecutor(cfg.RepoPath, nil, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Loop{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("agent"),
	}
}

// Run executes the loop. Reasoner transport failures, stop signals and
// success-check failures abort with an error; the outcome gathered so far is
// returned alongside it.
func (l *Loop) Run(ctx context.Context) (outcome models.AgentOutcome, err error) {
	outcome.Status = models.AgentStatusFailed
	defer func() {
		fields := []zap.Field{
			zap.String("status", string(outcome.Status)),
			zap.Int("iterations", outcome.Iterations()),
			zap.Bool("mutated", outcome.Mutated),
			zap.Int("malformed", outcome.Malformed),
		}
		if err != nil {
			fields = append(fields, zap.String("error", err.Error()))
		}
		l.cfg.Events.Emit(report.EventAgentOutcome, fields...)
	}()

	prompt := Prompt{
		System: SystemPrompt(l.cfg.TestCommand),
		Task:   l.cfg.Task,
	}
	l.appendTranscript(prompt.Render())

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := l.checkSignals(ctx); err != nil {
			return outcome, err
		}
		if err := l.limiter.Wait(ctx); err != nil {
			if ctxErr := errkind.FromContext(ctx, "agent loop"); ctxErr != nil {
				return outcome, ctxErr
			}
			return outcome, errkind.New(errkind.Canceled, "agent loop", err)
		}

		raw, err := l.ask(ctx, prompt)
		if err != nil {
			l.logger.Warn("reasoner request failed", zap.Int("iteration", i), zap.Error(err))
			return outcome, err
		}
		l.cfg.Events.Emit(report.EventAgentTurn,
			zap.Int("iteration", i),
			zap.String("reasoner", l.cfg.Reasoner.Name()),
			zap.Int("response_bytes", len(raw)),
		)

		step := models.AgentStep{
			Iteration:    i,
			Prompt:       prompt.Render(),
			Response:     raw,
			TestExitCode: -1,
		}

		action, perr := ParseAction(raw)
		if perr != nil {
			step.Malformed = true
			step.Result = perr.Error()
			outcome.Malformed++
			outcome.Steps = append(outcome.Steps, step)
			x := Exchange{Response: raw, Result: perr.Error()}
			prompt.History = append(prompt.History, x)
			l.cfg.Events.Emit(report.EventMalformedAction,
				zap.Int("iteration", i),
				zap.String("reason", perr.Error()),
			)
			l.logger.Debug("malformed action", zap.Int("iteration", i), zap.Error(perr))
			l.appendTurn(i, x)
			continue
		}

		step.Tool = action.Tool()
		step.Args = action.Args()
		l.logger.Info(FormatToolAction(action), zap.Int("iteration", i))

		res, err := l.cfg.Tools.Dispatch(ctx, action)
		if err != nil {
			outcome.Steps = append(outcome.Steps, step)
			return outcome, err
		}
		mutated := isMutation(action, res)
		if mutated {
			outcome.Mutated = true
		}
		l.cfg.Events.Emit(report.EventToolDispatch,
			zap.Int("iteration", i),
			zap.String("tool", string(action.Tool())),
			zap.Bool("is_error", res.IsError),
			zap.Int("output_bytes", len(res.Content)),
		)

		step.Result = res.Content
		step.IsError = res.IsError
		x := Exchange{
			CallID:   "toolu_" + uuid.NewString(),
			Response: raw,
			Action:   action,
			Result:   res.Content,
			IsError:  res.IsError,
		}

		// The tree is unchanged, so the previous check still holds.
		if !mutated {
			outcome.Steps = append(outcome.Steps, step)
			prompt.History = append(prompt.History, x)
			l.appendTurn(i, x)
			continue
		}

		check, err := l.cfg.Checker.Run(ctx, l.cfg.TestCommand, l.cfg.RepoPath)
		l.cfg.Events.Emit(report.EventExecution,
			zap.String("stage", string(models.StageAgent)),
			zap.Int("iteration", i),
			zap.Int("exit_code", check.ExitCode),
			zap.Int("errors", check.ErrorCount),
		)
		if err != nil {
			outcome.Steps = append(outcome.Steps, step)
			return outcome, fmt.Errorf("success check after iteration %d: %w", i, err)
		}

		step.TestExitCode = check.ExitCode
		outcome.Steps = append(outcome.Steps, step)

		x.Result = fmt.Sprintf("%s\n\nTest command exited %d with %d failing lines.",
			res.Content, check.ExitCode, check.ErrorCount)
		prompt.History = append(prompt.History, x)
		l.appendTurn(i, x)

		if check.ExitCode == 0 {
			outcome.Status = models.AgentStatusDone
			return outcome, nil
		}
	}

	l.logger.Info("iteration budget exhausted", zap.Int("max_iterations", l.cfg.MaxIterations))
	return outcome, nil
}

func (l *Loop) ask(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	raw, err := l.cfg.Reasoner.Next(ctx, prompt)
	if err == nil {
		return raw, nil
	}
	if errkind.KindOf(err) != "" {
		return "", err
	}
	if ctxErr := errkind.FromContext(ctx, "reasoner request"); ctxErr != nil {
		return "", ctxErr
	}
	return "", errkind.New(errkind.ExternalService, "reasoner request", err)
}

func (l *Loop) checkSignals(ctx context.Context) error {
	if err := errkind.FromContext(ctx, "agent loop"); err != nil {
		return err
	}
	if l.cfg.Signals == nil {
		return nil
	}
	if l.cfg.Signals.ShouldStop() {
		return errkind.New(errkind.Canceled, "agent loop", ErrStopped)
	}
	if err := l.cfg.Signals.WaitWhilePaused(ctx); err != nil {
		return err
	}
	if l.cfg.Signals.ShouldStop() {
		return errkind.New(errkind.Canceled, "agent loop", ErrStopped)
	}
	return nil
}

func (l *Loop) appendTranscript(text string) {
	if l.cfg.Transcript == nil {
		return
	}
	if err := l.cfg.Transcript.AppendPrompt(text); err != nil {
		l.logger.Warn("write prompt log", zap.Error(err))
	}
}

func (l *Loop) appendTurn(i int, x Exchange) {
	l.appendTranscript(renderTurn(i, x))
}

// isMutation reports whether a dispatch may have changed the working tree.
// A shell command counts even when it exits non-zero.
func isMutation(action Action, res ToolResult) bool {
	if !action.Tool().Mutating() {
		return false
	}
	if _, ok := action.(RunBash); ok {
		return true
	}
	return !res.IsError
}
