package entity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeName(t *testing.T) {
	tests := []struct {
		name string
		conf string
		want string
		err  error
	}{
		{"plain", "NODENAME=rabbit@messaging-node-6\n", "rabbit@messaging-node-6", nil},
		{"whitespace", "  NODENAME =  rabbit@messaging-node-6   \n", "rabbit@messaging-node-6", nil},
		{"surrounded", "# env\nRABBITMQ_LOG_BASE=/var/log/rabbitmq\nNODENAME=rabbit@messaging-node-6\nNODE_PORT=5673\n", "rabbit@messaging-node-6", nil},
		{"repeated", "NODENAME=rabbit@a\nNODENAME=rabbit@a\n", "rabbit@a", nil},
		{"missing", "NODE_PORT=5673\n", "", ErrNodeNameMissing},
		{"empty", "", "", ErrNodeNameMissing},
		{"commented", "# NODENAME=rabbit@a\n", "", ErrNodeNameMissing},
		{"conflicting", "NODENAME=rabbit@a\nNODENAME=rabbit@b\n", "", ErrNodeNameAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodeName([]byte(tt.conf))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "messaging-node-6", ShortName("messaging-node-6.domain.tld"))
	assert.Equal(t, "messaging-node-6", ShortName("messaging-node-6"))
	assert.Equal(t, "", ShortName(""))
}

func TestIsSameNode(t *testing.T) {
	tests := []struct {
		local, departed string
		want            bool
	}{
		{"messaging-node-6", "messaging-node-6", true},
		{"messaging-node-3", "messaging-node-6", false},
		{"node-1", "node-10", false},
		{"node-10", "node-1", false},
		{"node.1", "nodex1", false},
		{"", "node-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSameNode(tt.local, tt.departed), "local=%q departed=%q", tt.local, tt.departed)
	}
}

func TestClusterEventIsDeparture(t *testing.T) {
	assert.True(t, (&ClusterEvent{Type: NodeStateChange, Action: ActionLeft}).IsDeparture())
	assert.False(t, (&ClusterEvent{Type: NodeStateChange, Action: ActionJoined}).IsDeparture())
	assert.False(t, (&ClusterEvent{Type: "QuorumStateChange", Action: ActionLeft}).IsDeparture())

	var ev *ClusterEvent
	assert.False(t, ev.IsDeparture())
}

func TestReportWriteTo(t *testing.T) {
	report := &Report{
		Local:    "messaging-node-3",
		NodeName: "rabbit@messaging-node-3",
		Results: []ProbeResult{
			{Node: "rabbit@messaging-node-6", Running: false, InCluster: true, Decision: DecisionFence},
		},
	}
	var buf bytes.Buffer
	n, err := report.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	out := buf.String()
	assert.Contains(t, out, "messaging-node-3")
	assert.Contains(t, out, "rabbit@messaging-node-6")
	assert.Contains(t, out, "fence")
}
