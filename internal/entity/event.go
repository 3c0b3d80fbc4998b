package entity

import "fmt"

// Event types and actions emitted by the corosync membership bus.
const (
	NodeStateChange = "NodeStateChange"

	ActionLeft   = "left"
	ActionJoined = "joined"
)

// ClusterEvent is a single notification received from the membership bus.
type ClusterEvent struct {
	Type    string        `json:"type"`           // Event classification, e.g. NodeStateChange
	Action  string        `json:"action"`         // What happened to the node, e.g. left
	Address string        `json:"address"`        // Bus address of the node the event concerns
	Args    []interface{} `json:"args,omitempty"` // Raw positional payload, only ever logged
}

// IsDeparture reports whether the event announces a node leaving the cluster.
func (ev *ClusterEvent) IsDeparture() bool {
	return ev != nil && ev.Type == NodeStateChange && ev.Action == ActionLeft
}

func (ev *ClusterEvent) String() string {
	return fmt.Sprintf("%s/%s(%s)", ev.Type, ev.Action, ev.Address)
}
