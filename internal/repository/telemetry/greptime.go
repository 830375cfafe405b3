package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"github.com/oshokin/ship-safety/internal/logger"
)

// DefaultGreptimePort is the GreptimeDB gRPC port.
const DefaultGreptimePort = 4001

// GreptimeConfig describes the GreptimeDB sink.
type GreptimeConfig struct {
	// Address is host or host:port.
	Address  string
	Database string
	Username string
	Password string
	Table    string
}

type rowWriter interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter writes health samples through the GreptimeDB ingester.
type GreptimeWriter struct {
	client rowWriter
	closer func() error
	table  string
}

// NewGreptimeWriter connects to GreptimeDB.
func NewGreptimeWriter(cfg GreptimeConfig) (*GreptimeWriter, error) {
	if cfg.Table == "" {
		return nil, errors.New("telemetry table is required")
	}

	host, port, err := splitAddress(cfg.Address)
	if err != nil {
		return nil, err
	}

	clientConfig := greptime.NewConfig(host).
		WithPort(port).
		WithDatabase(cfg.Database).
		WithInsecure(true)

	if cfg.Username != "" {
		clientConfig = clientConfig.WithAuth(cfg.Username, cfg.Password)
	}

	client, err := greptime.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create greptime client: %w", err)
	}

	return &GreptimeWriter{
		client: client,
		closer: client.Close,
		table:  cfg.Table,
	}, nil
}

// Write inserts samples as one row batch.
func (w *GreptimeWriter) Write(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tbl, err := w.buildTable(samples)
	if err != nil {
		return err
	}

	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("write %d health samples: %w", len(samples), err)
	}

	logger.DebugKV(ctx, "Health samples written", "table", w.table, "rows", len(samples))

	return nil
}

// Close releases the connection.
func (w *GreptimeWriter) Close() error {
	if w == nil || w.closer == nil {
		return nil
	}

	return w.closer()
}

func (w *GreptimeWriter) buildTable(samples []Sample) (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", w.table, err)
	}

	columns := []struct {
		name string
		tag  bool
		typ  types.ColumnType
	}{
		{name: "system", tag: true, typ: types.STRING},
		{name: "status", typ: types.STRING},
		{name: "reported", typ: types.FLOAT64},
		{name: "penalty", typ: types.FLOAT64},
		{name: "score", typ: types.FLOAT64},
		{name: "active_alarms", typ: types.INT64},
		{name: "active_sessions", typ: types.INT64},
		{name: "faulty_devices", typ: types.INT64},
	}

	for _, column := range columns {
		if column.tag {
			err = tbl.AddTagColumn(column.name, column.typ)
		} else {
			err = tbl.AddFieldColumn(column.name, column.typ)
		}

		if err != nil {
			return nil, fmt.Errorf("add column %s: %w", column.name, err)
		}
	}

	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, fmt.Errorf("add time index: %w", err)
	}

	for _, sample := range samples {
		err := tbl.AddRow(
			string(sample.System),
			string(sample.Status),
			sample.Reported,
			sample.Penalty,
			sample.Score,
			int64(sample.ActiveAlarms),
			int64(sample.ActiveSessions),
			int64(sample.FaultyDevices),
			sample.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("add %s sample: %w", sample.System, err)
		}
	}

	return tbl, nil
}

func splitAddress(address string) (string, int, error) {
	if address == "" {
		return "", 0, errors.New("telemetry address is required")
	}

	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		// Bare host.
		return address, DefaultGreptimePort, nil //nolint:nilerr // A missing port is allowed.
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid telemetry port %q", rawPort)
	}

	return host, port, nil
}
