package results

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/model"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    NodeID       String,
    CaptureStart DateTime,
    Timestamp    DateTime64(3),
    SSID         String,
    BSSID        String,
    Channel      UInt16,
    Raw          Int32,
    Average      Float64,
    Deviation    Float64,
    Variability  Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(CaptureStart)
ORDER BY (NodeID, Timestamp);
`

// ClickHouseStore keeps sample records of every node in one table.
type ClickHouseStore struct {
	conn  driver.Conn
	table string
	log   *zap.SugaredLogger
}

// OpenClickHouse connects and makes sure the table exists.
func OpenClickHouse(cfg config.ClickHouseConfig, log *zap.SugaredLogger) (*ClickHouseStore, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Infof("Connected to ClickHouse, writing samples to %s.%s", cfg.Database, cfg.Table)
	return &ClickHouseStore{conn: conn, table: cfg.Table, log: log}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Open returns a writer for one node's capture.
func (s *ClickHouseStore) Open(nodeID string, start time.Time) (model.Writer, error) {
	return &clickHouseWriter{store: s, nodeID: nodeID, start: start}, nil
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// clickHouseWriter buffers records until Flush sends them as one batch.
type clickHouseWriter struct {
	store  *ClickHouseStore
	nodeID string
	start  time.Time

	mu      sync.Mutex
	ap      model.APRecord
	pending []model.SampleRecord
}

func (w *clickHouseWriter) WriteHeader(ap model.APRecord) error {
	w.mu.Lock()
	w.ap = ap
	w.mu.Unlock()
	return nil
}

func (w *clickHouseWriter) Write(rec model.SampleRecord) error {
	w.mu.Lock()
	w.pending = append(w.pending, rec)
	w.mu.Unlock()
	return nil
}

func (w *clickHouseWriter) Flush() error {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	ap := w.ap
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	batch, err := w.store.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.store.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, rec := range pending {
		err := batch.Append(
			w.nodeID,
			w.start,
			time.UnixMilli(int64(rec.Timestamp)),
			ap.SSID,
			ap.BSSID.String(),
			ap.Channel,
			rec.Raw,
			rec.Average,
			rec.Deviation,
			rec.Variability,
		)
		if err != nil {
			return fmt.Errorf("failed to append sample to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	w.store.log.Debugf("Wrote %d samples of %s to ClickHouse", len(pending), w.nodeID)
	return nil
}

func (w *clickHouseWriter) Close() error {
	return w.Flush()
}
