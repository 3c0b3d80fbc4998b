package bus

import (
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/nsqio/nsq/nsqd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentNSQD swallows the embedded daemon's own logs.
type silentNSQD struct{}

func (silentNSQD) Output(maxdepth int, s string) error { return nil }

// startNSQD boots an in-process nsqd on random local ports.
func startNSQD(t *testing.T) *net.TCPAddr {
	opts := nsqd.NewOptions()
	opts.DataPath = t.TempDir()
	opts.TCPAddress = "127.0.0.1:0"
	opts.HTTPAddress = "127.0.0.1:0"
	opts.HTTPSAddress = ""
	opts.Logger = silentNSQD{}

	daemon, err := nsqd.New(opts)
	require.NoError(t, err)
	go daemon.Main()
	t.Cleanup(daemon.Exit)

	return daemon.RealTCPAddr()
}

func quietLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

func TestNSQRoundTrip(t *testing.T) {
	addr := startNSQD(t)
	config := NSQConfig{
		Topic:   "corosync",
		Channel: "messaging-node-3#ephemeral",
		NSQD:    []string{addr.String()},
	}
	sub, err := NewNSQ(config, quietLogger())
	require.NoError(t, err)
	defer sub.Close()

	sent := &entity.ClusterEvent{
		Type:    entity.NodeStateChange,
		Action:  entity.ActionLeft,
		Address: "messaging-node-6.domain",
		Args:    []interface{}{"messaging-node-6.domain", "left"},
	}
	require.NoError(t, Publish(config, addr.String(), sent, quietLogger()))

	select {
	case got := <-sub.Events():
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, sent.Action, got.Action)
		assert.Equal(t, sent.Address, got.Address)
		assert.Equal(t, sent.Args, got.Args)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}
