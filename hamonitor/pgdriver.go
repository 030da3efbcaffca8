package hamonitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trustnet/centerconf/interfaces"
)

// clusterStatusQuery joins streaming-replication state with the per-node
// last-update timestamps of the four tracked configuration artifacts, in the
// shape of the ha_cluster_status view maintained by the database schema.
const clusterStatusQuery = `
SELECT node_name,
       replication_state,
       replication_active,
       COALESCE(client_addr, ''),
       COALESCE(lag_bytes, 0),
       private_params_updated_at,
       shared_params_updated_at,
       internal_anchor_generated_at,
       external_anchor_generated_at
  FROM ha_cluster_status
 ORDER BY node_name`

// PGDriver reads cluster replication status from PostgreSQL.
type PGDriver struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	log     *slog.Logger
}

// NewPGDriver creates a replication driver connected to dsn. Queries carry a
// bounded timeout so a stuck replica cannot hang the diagnostic.
func NewPGDriver(ctx context.Context, dsn string, timeout time.Duration, log *slog.Logger) (*PGDriver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect replication driver: %w", err)
	}
	return &PGDriver{pool: pool, timeout: timeout, log: log}, nil
}

// NodeStatuses implements interfaces.ReplicationDriver.
func (d *PGDriver) NodeStatuses(ctx context.Context) ([]interfaces.NodeStatusRow, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	rows, err := d.pool.Query(ctx, clusterStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("cluster status query failed: %w", err)
	}
	defer rows.Close()

	var result []interfaces.NodeStatusRow
	for rows.Next() {
		var row interfaces.NodeStatusRow
		err := rows.Scan(
			&row.NodeName,
			&row.StatusCode,
			&row.ReplicationActive,
			&row.ClientAddress,
			&row.LagBytes,
			&row.PrivateParamsAt,
			&row.SharedParamsAt,
			&row.InternalAnchorAt,
			&row.ExternalAnchorAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster status row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cluster status query failed: %w", err)
	}

	return result, nil
}

// Close releases the connection pool.
func (d *PGDriver) Close() {
	d.pool.Close()
}

// MockDriver is a ReplicationDriver returning fixed rows. Used in tests and
// for single-node deployments without a replication setup.
type MockDriver struct {
	Rows []interfaces.NodeStatusRow
	Err  error
}

// NodeStatuses implements interfaces.ReplicationDriver.
func (d *MockDriver) NodeStatuses(ctx context.Context) ([]interfaces.NodeStatusRow, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Rows, nil
}
