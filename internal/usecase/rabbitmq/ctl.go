package rabbitmq

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/telemetry"
)

const (
	// DefaultRetries is how many times a running node is re-checked before
	// it is accepted as alive.
	DefaultRetries = 5

	// DefaultRetryDelay is the pause between liveness re-checks. A node that
	// went down stays "running" in mnesia for a while.
	DefaultRetryDelay = 10 * time.Second
)

// Erlang expressions evaluated through rabbitmqctl.
const (
	runningNodesExpr = "mnesia:system_info(running_db_nodes)."
	clusterNodesExpr = "mnesia:system_info(db_nodes)."
)

// Config is the set of options to tune the rabbitmqctl wrapper.
type Config struct {
	Path       string        // Path to the rabbitmqctl binary
	Retries    int           // Liveness re-checks after the first attempt
	RetryDelay time.Duration // Pause between liveness attempts

	// Sleep waits between liveness attempts, time based when nil
	Sleep func(ctx context.Context, d time.Duration) error
}

// Ctl queries and mutates the broker cluster via rabbitmqctl.
type Ctl struct {
	runner  Runner
	path    string
	retries int
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  log.Logger
}

// NewCtl wraps a command runner into a broker cluster controller.
func NewCtl(runner Runner, config Config, logger log.Logger) *Ctl {
	if config.Path == "" {
		config.Path = "rabbitmqctl"
	}
	if config.Sleep == nil {
		config.Sleep = sleep
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Ctl{
		runner:  runner,
		path:    config.Path,
		retries: config.Retries,
		delay:   config.RetryDelay,
		sleep:   config.Sleep,
		logger:  logger,
	}
}

// IsNodeRunning checks whether the node is still among the running db nodes.
// A running node is re-checked up to the configured number of retries since
// mnesia keeps reporting a crashed node as running for some time.
func (c *Ctl) IsNodeRunning(ctx context.Context, node string) bool {
	var (
		running  bool
		attempts int
	)
	for {
		attempts++
		running = c.IsNodeRunningOnce(ctx, node)
		if !running || attempts > c.retries {
			break
		}
		c.logger.Debug("Node still reported running, rechecking", "node", node, "attempt", attempts, "delay", c.delay)
		if err := c.sleep(ctx, c.delay); err != nil {
			break
		}
	}
	telemetry.LivenessAttempts.Observe(float64(attempts))
	return running
}

// IsNodeRunningOnce checks the running db nodes a single time, without the
// re-checks IsNodeRunning does.
func (c *Ctl) IsNodeRunningOnce(ctx context.Context, node string) bool {
	return containsNode(c.eval(ctx, "running_nodes", runningNodesExpr), node)
}

// IsNodeInCluster checks whether the node is still a persisted cluster member.
func (c *Ctl) IsNodeInCluster(ctx context.Context, node string) bool {
	return containsNode(c.eval(ctx, "cluster_nodes", clusterNodesExpr), node)
}

// DisconnectNode drops the distribution link to the node.
func (c *Ctl) DisconnectNode(ctx context.Context, node string) {
	c.eval(ctx, "disconnect", DisconnectExpr(node))
}

// ForgetNode removes the node from the cluster membership.
func (c *Ctl) ForgetNode(ctx context.Context, node string) {
	defer telemetry.ObserveCommand("forget", time.Now())
	c.runner.Run(ctx, c.path, "forget_cluster_node", node)
}

func (c *Ctl) eval(ctx context.Context, command string, expr string) string {
	defer telemetry.ObserveCommand(command, time.Now())
	return c.runner.Run(ctx, c.path, "eval", expr)
}

// DisconnectExpr builds the Erlang expression disconnecting a node. The name
// is embedded as an Erlang string literal, never as shell text.
func DisconnectExpr(node string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(node)
	return `disconnect_node(list_to_atom("` + quoted + `")).`
}

// containsNode reports whether the node name appears in the rabbitmqctl
// output as a whole atom, so rabbit@node-1 never matches rabbit@node-10.
func containsNode(output string, node string) bool {
	if output == "" || node == "" {
		return false
	}
	pattern := regexp.MustCompile(`(^|[^\w@.-])` + regexp.QuoteMeta(node) + `($|[^\w@.-])`)
	return pattern.MatchString(output)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
