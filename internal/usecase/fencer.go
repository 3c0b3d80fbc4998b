package usecase

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/karalabe/rabbitfence/internal/telemetry"
)

// Fencer evicts departed nodes from the broker cluster once it is certain
// they are gone.
type Fencer struct {
	broker     BrokerCluster
	configPath string                 // Path of rabbitmq-env.conf holding NODENAME
	hostname   func() (string, error) // Local hostname source, os.Hostname by default
	logger     log.Logger
}

// NewFencer creates a fencer acting on the given broker cluster.
func NewFencer(broker BrokerCluster, configPath string, logger log.Logger) *Fencer {
	if logger == nil {
		logger = log.Root()
	}
	return &Fencer{
		broker:     broker,
		configPath: configPath,
		hostname:   os.Hostname,
		logger:     logger,
	}
}

// SetHostname overrides where the local hostname is read from.
func (f *Fencer) SetHostname(hostname func() (string, error)) {
	f.hostname = hostname
}

// NodeName reads the broker node name from the rabbitmq-env.conf file.
func (f *Fencer) NodeName() (string, error) {
	blob, err := os.ReadFile(f.configPath)
	if err != nil {
		return "", fmt.Errorf("broker config: %w", err)
	}
	name, err := entity.ParseNodeName(blob)
	if err != nil {
		return "", fmt.Errorf("broker config %s: %w", f.configPath, err)
	}
	return name, nil
}

// LocalName returns the short hostname of the local node.
func (f *Fencer) LocalName() (string, error) {
	host, err := f.hostname()
	if err != nil {
		return "", err
	}
	return entity.ShortName(host), nil
}

// HandleDeparture reacts to the node at the given bus address leaving the
// membership. Nothing is touched unless the node is remote, no longer
// running and still listed in the cluster; then it is disconnected and
// forgotten, in that order.
func (f *Fencer) HandleDeparture(ctx context.Context, address string) error {
	node, err := f.NodeName()
	if err != nil {
		telemetry.DecisionsTotal.WithLabelValues(string(entity.DecisionError)).Inc()
		return err
	}
	local, err := f.LocalName()
	if err != nil {
		telemetry.DecisionsTotal.WithLabelValues(string(entity.DecisionError)).Inc()
		return fmt.Errorf("local hostname: %w", err)
	}
	logger := f.logger.New("node", node)
	logger.Info("Preparing to fence node from rabbit cluster", "address", address)

	decision := f.decide(ctx, logger, node, local, address)
	telemetry.DecisionsTotal.WithLabelValues(string(decision)).Inc()

	if decision != entity.DecisionFence {
		return nil
	}
	logger.Info("Disconnecting node")
	f.broker.DisconnectNode(ctx, node)

	logger.Info("Forgetting cluster node")
	f.broker.ForgetNode(ctx, node)

	return nil
}

// Probe evaluates the read-only guards for a departure without mutating the
// broker, returning what HandleDeparture would do.
func (f *Fencer) Probe(ctx context.Context, address string) (entity.ProbeResult, error) {
	node, err := f.NodeName()
	if err != nil {
		return entity.ProbeResult{}, err
	}
	local, err := f.LocalName()
	if err != nil {
		return entity.ProbeResult{}, fmt.Errorf("local hostname: %w", err)
	}
	result := entity.ProbeResult{
		Node:     node,
		Decision: f.decide(ctx, f.logger.New("node", node), node, local, address),
	}
	switch result.Decision {
	case entity.DecisionAlive:
		result.Running = true
		result.InCluster = f.broker.IsNodeInCluster(ctx, node)
	case entity.DecisionFence:
		result.InCluster = true
	case entity.DecisionSelf:
		result.Running = f.broker.IsNodeRunningOnce(ctx, node)
		result.InCluster = f.broker.IsNodeInCluster(ctx, node)
	}
	return result, nil
}

// decide runs the guards in order and stops at the first that vetoes.
func (f *Fencer) decide(ctx context.Context, logger log.Logger, node, local, address string) entity.Decision {
	if address == "" || entity.IsSameNode(local, entity.ShortName(address)) {
		logger.Debug("Ignoring the node", "address", address, "local", local)
		return entity.DecisionSelf
	}
	if f.broker.IsNodeRunning(ctx, node) {
		logger.Warn("Ignoring alive node")
		return entity.DecisionAlive
	}
	if !f.broker.IsNodeInCluster(ctx, node) {
		logger.Debug("Ignoring forgotten node")
		return entity.DecisionForgotten
	}
	return entity.DecisionFence
}
