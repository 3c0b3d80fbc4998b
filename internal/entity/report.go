package entity

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Decision is the outcome the fencer reached (or would reach) for a node.
type Decision string

const (
	DecisionSelf      Decision = "self"      // Departed node is the local one
	DecisionAlive     Decision = "alive"     // Broker still reports the node running
	DecisionForgotten Decision = "forgotten" // Node no longer in the cluster list
	DecisionFence     Decision = "fence"     // Node disconnected and forgotten
	DecisionError     Decision = "error"     // Handling aborted on a config error
)

// ProbeResult is the observed broker state for a single node.
type ProbeResult struct {
	Node      string   // Broker node name, e.g. rabbit@messaging-node-6
	Running   bool     // Whether the node is in the running db nodes list
	InCluster bool     // Whether the node is in the persisted db nodes list
	Decision  Decision // What the daemon would do about a departure
}

// Report is a dry run summary of the broker as seen from the local node.
type Report struct {
	Local    string // Short hostname of the local node
	NodeName string // Local broker node name from rabbitmq-env.conf
	Results  []ProbeResult
}

// WriteTo renders the report as a borderless table.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	fmt.Fprintf(cw, "Local host:  %s\n", r.Local)
	fmt.Fprintf(cw, "Broker node: %s\n", r.NodeName)
	fmt.Fprintf(cw, "\n")

	rows := make([][]string, 0, len(r.Results))
	for i, res := range r.Results {
		rows = append(rows, []string{
			strconv.Itoa(i + 1), res.Node, yesNo(res.Running), yesNo(res.InCluster), string(res.Decision),
		})
	}
	table := tablewriter.NewWriter(cw)
	table.SetHeader([]string{"#", "Node", "Running", "Clustered", "Decision"})
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()

	return cw.n, cw.err
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
