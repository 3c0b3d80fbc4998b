package rabbitmq

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingExecutor() (*Executor, *[]*log.Record) {
	var records []*log.Record
	logger := log.New()
	logger.SetHandler(log.FuncHandler(func(r *log.Record) error {
		records = append(records, r)
		return nil
	}))
	return NewExecutor(Account{User: "rabbitmq", Home: "/var/lib/rabbitmq"}, logger), &records
}

func TestAccountEnviron(t *testing.T) {
	t.Setenv("USER", "root")
	t.Setenv("RABBIT_FENCE_TEST", "kept")

	env := Account{User: "rabbitmq", Home: "/var/lib/rabbitmq"}.Environ()

	assert.Contains(t, env, "USER=rabbitmq")
	assert.Contains(t, env, "LOGNAME=rabbitmq")
	assert.Contains(t, env, "MAIL=/var/spool/mail/rabbitmq")
	assert.Contains(t, env, "HOME=/var/lib/rabbitmq")
	assert.Contains(t, env, "PWD=/var/lib/rabbitmq")
	assert.Contains(t, env, "RABBIT_FENCE_TEST=kept")
	assert.NotContains(t, env, "USER=root")
}

func TestExecutorCapturesOutput(t *testing.T) {
	exec, records := recordingExecutor()

	out := exec.Run(context.Background(), "sh", "-c", `echo "  $USER at $HOME  "; echo oops >&2`)
	assert.Equal(t, "rabbitmq at /var/lib/rabbitmq", out)

	var msgs []string
	for _, r := range *records {
		assert.Equal(t, log.LvlDebug, r.Lvl)
		msgs = append(msgs, r.Msg)
	}
	assert.Equal(t, []string{"Command", "  Stdout", "  Stderr"}, msgs)
}

func TestExecutorLargeOutput(t *testing.T) {
	exec, _ := recordingExecutor()

	// Both pipes well past the kernel buffer size must not deadlock
	out := exec.Run(context.Background(), "sh", "-c", `i=0; while [ $i -lt 20000 ]; do echo xxxxxxxxxx; echo yyyyyyyyyy >&2; i=$((i+1)); done`)
	assert.Equal(t, 20000, strings.Count(out, "xxxxxxxxxx"))
}

// A failing command and a command reporting absence look identical to callers.
func TestExecutorFailureIsAbsence(t *testing.T) {
	exec, records := recordingExecutor()

	failed := exec.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	absent := exec.Run(context.Background(), "sh", "-c", "true")
	missing := exec.Run(context.Background(), "/nonexistent/rabbitmqctl", "eval", "ok.")

	assert.Equal(t, "", failed)
	assert.Equal(t, "", absent)
	assert.Equal(t, "", missing)

	var failures int
	for _, r := range *records {
		require.Equal(t, log.LvlDebug, r.Lvl)
		if r.Msg == "  Command failed" {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestExecutorPartialOutputOnFailure(t *testing.T) {
	exec, _ := recordingExecutor()

	out := exec.Run(context.Background(), "sh", "-c", "echo rabbit@node-1; exit 1")
	assert.Equal(t, "rabbit@node-1", out)
}
