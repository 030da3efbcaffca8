package hamonitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustnet/centerconf/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func configuredRow(name string, statusCode string, replicating bool) interfaces.NodeStatusRow {
	ts := time.Now().UTC()
	return interfaces.NodeStatusRow{
		NodeName:          name,
		StatusCode:        statusCode,
		ReplicationActive: replicating,
		PrivateParamsAt:   &ts,
		SharedParamsAt:    &ts,
		InternalAnchorAt:  &ts,
		ExternalAnchorAt:  &ts,
	}
}

func TestCheckCluster(t *testing.T) {
	tests := []struct {
		name       string
		rows       []interfaces.NodeStatusRow
		expectedOK bool
	}{
		{
			name: "three nodes all replicating",
			rows: []interfaces.NodeStatusRow{
				configuredRow("node_0", StatusReadyCode, true),
				configuredRow("node_1", StatusReadyCode, true),
				configuredRow("node_2", StatusReadyCode, true),
			},
			expectedOK: true,
		},
		{
			name: "one non-replicating node tolerated",
			rows: []interfaces.NodeStatusRow{
				configuredRow("node_0", StatusReadyCode, false),
				configuredRow("node_1", StatusReadyCode, true),
				configuredRow("node_2", StatusReadyCode, true),
			},
			expectedOK: true,
		},
		{
			name: "two non-replicating nodes fail",
			rows: []interfaces.NodeStatusRow{
				configuredRow("node_0", StatusReadyCode, false),
				configuredRow("node_1", StatusReadyCode, false),
				configuredRow("node_2", StatusReadyCode, true),
			},
			expectedOK: false,
		},
		{
			name: "unrecognized status code fails",
			rows: []interfaces.NodeStatusRow{
				configuredRow("node_0", StatusReadyCode, true),
				configuredRow("node_1", "catchup", true),
				configuredRow("node_2", StatusReadyCode, true),
			},
			expectedOK: false,
		},
		{
			name: "single node without replication",
			rows: []interfaces.NodeStatusRow{
				configuredRow("node_0", StatusReadyCode, false),
			},
			expectedOK: true,
		},
		{
			name:       "no nodes",
			rows:       nil,
			expectedOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMonitor(&MockDriver{Rows: tt.rows}, testLogger())
			status, err := monitor.CheckCluster(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOK, status.AllNodesOK)
			assert.Len(t, status.Nodes, len(tt.rows))
		})
	}
}

func TestCheckCluster_MissingTimestampFails(t *testing.T) {
	rows := []interfaces.NodeStatusRow{
		configuredRow("node_0", StatusReadyCode, true),
		configuredRow("node_1", StatusReadyCode, true),
	}
	rows[1].ExternalAnchorAt = nil

	monitor := NewMonitor(&MockDriver{Rows: rows}, testLogger())
	status, err := monitor.CheckCluster(context.Background())
	require.NoError(t, err)
	assert.False(t, status.AllNodesOK)
	assert.True(t, status.Nodes[0].ConfigurationOK)
	assert.False(t, status.Nodes[1].ConfigurationOK)
}

func TestCheckCluster_NodeVerdicts(t *testing.T) {
	rows := []interfaces.NodeStatusRow{
		configuredRow("node_0", StatusReadyCode, true),
		configuredRow("node_1", "startup", true),
	}

	monitor := NewMonitor(&MockDriver{Rows: rows}, testLogger())
	status, err := monitor.CheckCluster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NodeReady, status.Nodes[0].Status)
	// unrecognized codes are surfaced as unknown, never mapped to ready
	assert.Equal(t, NodeUnknown, status.Nodes[1].Status)
}

func TestCheckCluster_DriverFailure(t *testing.T) {
	monitor := NewMonitor(&MockDriver{Err: errors.New("connection refused")}, testLogger())

	// a driver failure fails the whole check, no partial result
	status, err := monitor.CheckCluster(context.Background())
	assert.Nil(t, status)
	assert.ErrorIs(t, err, interfaces.ErrGatewayUnavailable)
}
