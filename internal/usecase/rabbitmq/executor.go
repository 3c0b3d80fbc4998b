// Package rabbitmq drives the RabbitMQ cluster through its rabbitmqctl CLI.
package rabbitmq

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Account is the service account rabbitmqctl has to believe it runs as.
type Account struct {
	User string // Login name, e.g. rabbitmq
	Home string // Home and working directory, e.g. /var/lib/rabbitmq
}

// Environ returns the current process environment with the account identity
// variables overridden.
func (a Account) Environ() []string {
	overrides := map[string]string{
		"USER":    a.User,
		"LOGNAME": a.User,
		"MAIL":    "/var/spool/mail/" + a.User,
		"HOME":    a.Home,
		"PWD":     a.Home,
	}
	env := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, ok := overrides[key]; !ok {
			env = append(env, kv)
		}
	}
	for _, key := range []string{"USER", "LOGNAME", "MAIL", "HOME", "PWD"} {
		env = append(env, key+"="+overrides[key])
	}
	return env
}

// Runner executes an external program and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) string
}

// Executor runs commands directly (no shell) under a fixed environment.
//
// Failures are not reported: a command that cannot start or exits non-zero
// yields whatever it printed on stdout, usually nothing. Callers treat an
// empty result as "condition not detected".
type Executor struct {
	Env    []string   // Full environment for the child process
	Logger log.Logger // Logger for command lines and their output
}

// NewExecutor creates an executor running as if invoked by the given account.
func NewExecutor(account Account, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.Root()
	}
	return &Executor{
		Env:    account.Environ(),
		Logger: logger,
	}
}

// Run executes the command, waiting for it to exit.
func (e *Executor) Run(ctx context.Context, name string, args ...string) string {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = e.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	e.Logger.Debug("Command", "cmd", strings.Join(cmd.Args, " "))
	if stdout.Len() > 0 {
		e.Logger.Debug("  Stdout", "out", stdout.String())
	}
	if stderr.Len() > 0 {
		e.Logger.Debug("  Stderr", "out", stderr.String())
	}
	if err != nil {
		e.Logger.Debug("  Command failed", "err", err)
	}
	return strings.TrimSpace(stdout.String())
}
