// Package exec provides a middleware that runs state.Exec commands and
// records their outcome in the document.
package exec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/gxo-labs/rdx/internal/async"
	"github.com/gxo-labs/rdx/internal/command"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/paramutil"
	"github.com/gxo-labs/rdx/internal/retry"
	"github.com/gxo-labs/rdx/internal/secrets"
	"github.com/gxo-labs/rdx/internal/state"
	intTracing "github.com/gxo-labs/rdx/internal/tracing"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	middleware.Register("exec", NewExecMiddleware)
}

// ExecMiddleware swallows every Exec, runs the command on a tracked goroutine
// and dispatches a SetValue at the action's path holding stdout, stderr,
// exit_code and error.
type ExecMiddleware struct {
	log      gxolog.Logger
	runner   command.Runner
	retry    *retry.Helper
	cfg      retry.Config
	timeout  time.Duration
	allow    []string
	keywords map[string]struct{}
	secrets  *secrets.Tracker
	baseEnv  map[string]string
	env      map[string]string
}

// NewExecMiddleware is the factory for ExecMiddleware using os/exec.
func NewExecMiddleware(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error) {
	return New(params, log, command.NewRunner())
}

// New builds an ExecMiddleware running commands through runner.
//
// Params: attempts, delay, max_delay, backoff_factor (retry policy for
// commands that fail or exit non-zero), timeout (per attempt), allow
// (command allow-list), env (variables set for every command; the action's
// own environment wins), redact (keywords masked in stored output, logs and
// span data; variables whose name contains a keyword are masked too),
// secret_env (host variables passed to every command whose values are masked
// wherever they appear in the outcome).
func New(params map[string]interface{}, log gxolog.Logger, runner command.Runner) (*ExecMiddleware, error) {
	if runner == nil {
		return nil, gxoerrors.NewConfigError("exec middleware requires a command runner", nil)
	}
	if err := paramutil.CheckAllowed(params, []string{
		"attempts", "delay", "max_delay", "backoff_factor", "timeout", "allow", "env", "redact", "secret_env",
	}); err != nil {
		return nil, err
	}

	cfg := retry.Config{Name: "exec"}
	var err error
	if cfg.Attempts, _, err = paramutil.GetOptionalInt(params, "attempts"); err != nil {
		return nil, err
	}
	if cfg.Attempts < 0 {
		return nil, gxoerrors.NewValidationError("parameter 'attempts' cannot be negative", nil)
	}
	if cfg.Delay, _, err = paramutil.GetOptionalDuration(params, "delay"); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, _, err = paramutil.GetOptionalDuration(params, "max_delay"); err != nil {
		return nil, err
	}
	if cfg.BackoffFactor, _, err = paramutil.GetOptionalFloat(params, "backoff_factor"); err != nil {
		return nil, err
	}
	timeout, _, err := paramutil.GetOptionalDuration(params, "timeout")
	if err != nil {
		return nil, err
	}
	allow, _, err := paramutil.GetOptionalStringSlice(params, "allow")
	if err != nil {
		return nil, err
	}
	redact, _, err := paramutil.GetOptionalStringSlice(params, "redact")
	if err != nil {
		return nil, err
	}

	baseEnv, _, err := paramutil.GetOptionalStringMap(params, "env")
	if err != nil {
		return nil, err
	}
	secretEnv, _, err := paramutil.GetOptionalStringSlice(params, "secret_env")
	if err != nil {
		return nil, err
	}
	tracker := secrets.NewTracker()
	env, err := tracker.ResolveEnv(secretEnv)
	if err != nil {
		return nil, err
	}

	keywords := intTracing.KeywordSet(redact)
	helper := retry.NewHelper(log)
	helper.SetRedactedKeywords(keywords)
	return &ExecMiddleware{
		log:      log,
		runner:   runner,
		retry:    helper,
		cfg:      cfg,
		timeout:  timeout,
		allow:    allow,
		keywords: keywords,
		secrets:  tracker,
		baseEnv:  baseEnv,
		env:      env,
	}, nil
}

func (m *ExecMiddleware) Intercept(ctx context.Context, _ any, action rdx.Action, next rdx.Continuation, dispatcher rdx.Dispatcher) {
	req, ok := action.(state.Exec)
	if !ok {
		_ = next.Next()
		return
	}

	if len(m.allow) > 0 && !slices.Contains(m.allow, req.Command) {
		err := gxoerrors.NewMiddlewareError("exec", fmt.Errorf("command '%s' is not allowed", req.Command))
		m.log.Errorf("Refusing command: %v", err)
		dispatcher.Dispatch(ctx, state.SetValue{Path: req.Path, Value: outcome("", "", -1, err)})
		return
	}

	if middleware.IsDryRun(ctx) {
		m.log.Infof("Dry run: would execute '%s' with %d args", req.Command, len(req.Args))
		env := intTracing.RedactStringMap(m.secretsMasked(m.environment(req.Environment)), m.keywords)
		dispatcher.Dispatch(ctx, state.SetValue{Path: req.Path, Value: map[string]interface{}{
			"dry_run":     true,
			"command":     req.Command,
			"args":        toList(req.Args),
			"environment": toMap(env),
			"stdout":      "",
			"stderr":      "",
			"exit_code":   0,
			"error":       "",
		}})
		return
	}

	trace.SpanFromContext(ctx).AddEvent("rdx.exec", trace.WithAttributes(m.attributes(req)...))
	async.Go(ctx, func() {
		res, err := m.run(ctx, req)
		stdout, stderr, code := "", "", -1
		if res != nil {
			stdout = m.mask(res.Stdout)
			stderr = m.mask(res.Stderr)
			code = res.ExitCode
		}
		if err != nil {
			err = errors.New(m.mask(err.Error()))
			m.log.Warnf("Command '%s' failed: %v", req.Command, err)
		}
		dispatcher.Dispatch(ctx, state.SetValue{Path: req.Path, Value: outcome(stdout, stderr, code, err)})
	})
}

// run executes req under the retry policy and returns the last result.
func (m *ExecMiddleware) run(ctx context.Context, req state.Exec) (*command.Result, error) {
	var last *command.Result
	err := m.retry.Do(ctx, m.cfg, func(ctx context.Context) error {
		attemptCtx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		res, err := m.runner.Run(attemptCtx, command.Request{
			Command:     req.Command,
			Args:        req.Args,
			WorkingDir:  req.WorkingDir,
			Environment: m.environment(req.Environment),
		})
		if res != nil {
			last = res
		}
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("command exited with non-zero status: %d", res.ExitCode)
		}
		return nil
	})
	return last, err
}

func (m *ExecMiddleware) mask(s string) string {
	return m.secrets.Mask(intTracing.RedactSecretsInString(s, m.keywords))
}

// environment layers the configured base variables, the request's own and the
// resolved secrets, later layers winning.
func (m *ExecMiddleware) environment(env map[string]string) map[string]string {
	if len(m.baseEnv) == 0 && len(m.env) == 0 {
		return env
	}
	merged := make(map[string]string, len(m.baseEnv)+len(env)+len(m.env))
	maps.Copy(merged, m.baseEnv)
	maps.Copy(merged, env)
	maps.Copy(merged, m.env)
	return merged
}

func (m *ExecMiddleware) secretsMasked(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = m.secrets.Mask(v)
	}
	return out
}

// attributes describes req for the dispatch span. Variable values are masked
// by name and by tracked secret.
func (m *ExecMiddleware) attributes(req state.Exec) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("rdx.exec.path", req.Path),
		attribute.String("rdx.exec.command", req.Command),
		attribute.Int("rdx.exec.args", len(req.Args)),
	}
	env := m.secretsMasked(m.environment(req.Environment))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		attrs = append(attrs, attribute.String("rdx.exec.env."+k, env[k]))
	}
	return intTracing.RedactAttributes(attrs, m.keywords)
}

func outcome(stdout, stderr string, exitCode int, err error) map[string]interface{} {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return map[string]interface{}{
		"stdout":    stdout,
		"stderr":    stderr,
		"exit_code": exitCode,
		"error":     msg,
	}
}

func toMap(env map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func toList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
