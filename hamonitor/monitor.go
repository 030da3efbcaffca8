package hamonitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trustnet/centerconf/interfaces"
)

// Node status verdicts.
const (
	NodeReady   = "ready"
	NodeUnknown = "unknown"
)

// StatusReadyCode is the replication driver's "ready" status code
// (streaming replication established).
const StatusReadyCode = "streaming"

// Monitor reduces per-node replication and configuration-freshness state to a
// single cluster health verdict. It is a read-only diagnostic: it never
// mutates state, and a driver failure fails the whole check rather than
// producing a stale partial result.
type Monitor struct {
	driver interfaces.ReplicationDriver
	log    *slog.Logger
}

// NewMonitor creates a consistency monitor over driver.
func NewMonitor(driver interfaces.ReplicationDriver, log *slog.Logger) *Monitor {
	return &Monitor{driver: driver, log: log}
}

// CheckCluster queries all HA nodes and reduces their state.
//
// A node is ready when its status code equals the driver's ready code; any
// unrecognized code is reported as unknown, which counts as not ready, so an
// anomaly is forced into view instead of silently passing. A node's
// configuration is ok only when all four tracked timestamps (private
// parameters, shared parameters, internal anchor, external anchor) are
// resolvable.
//
// The cluster is ok when every node is ready, every node's configuration is
// ok, and the number of nodes with active replication is at least total-1:
// the node answering the query need not replicate to itself.
func (m *Monitor) CheckCluster(ctx context.Context) (*interfaces.ClusterStatus, error) {
	rows, err := m.driver.NodeStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: replication driver: %v", interfaces.ErrGatewayUnavailable, err)
	}

	status := &interfaces.ClusterStatus{
		Nodes: make([]interfaces.NodeStatus, 0, len(rows)),
	}

	allReady := true
	allConfigOK := true
	replicatingCount := 0

	for _, row := range rows {
		node := interfaces.NodeStatus{
			NodeName:          row.NodeName,
			Status:            NodeUnknown,
			ReplicationActive: row.ReplicationActive,
			ConfigurationOK:   configurationOK(row),
		}
		if row.StatusCode == StatusReadyCode {
			node.Status = NodeReady
		}

		if node.Status != NodeReady {
			allReady = false
			m.log.Warn("HA node not ready", "node", row.NodeName, "statusCode", row.StatusCode)
		}
		if !node.ConfigurationOK {
			allConfigOK = false
			m.log.Warn("HA node configuration incomplete", "node", row.NodeName)
		}
		if row.ReplicationActive {
			replicatingCount++
		}

		status.Nodes = append(status.Nodes, node)
	}

	// One non-replicating node is tolerated regardless of cluster size.
	status.AllNodesOK = len(rows) > 0 &&
		allReady &&
		allConfigOK &&
		replicatingCount >= len(rows)-1

	return status, nil
}

func configurationOK(row interfaces.NodeStatusRow) bool {
	return row.PrivateParamsAt != nil &&
		row.SharedParamsAt != nil &&
		row.InternalAnchorAt != nil &&
		row.ExternalAnchorAt != nil
}
