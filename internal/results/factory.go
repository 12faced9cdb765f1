package results

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/model"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Opener creates the result sink of one node's capture.
type Opener interface {
	Open(nodeID string, start time.Time) (model.Writer, error)
	Close() error
}

// CSVOpener writes one CSV file per node and capture.
type CSVOpener struct {
	Dir string
}

func (o CSVOpener) Open(nodeID string, start time.Time) (model.Writer, error) {
	return NewCSVWriter(o.Dir, nodeID, start)
}

func (o CSVOpener) Close() error { return nil }

// NewOpener builds the sink selected by cfg.Sink.
func NewOpener(cfg config.ResultsConfig, log *zap.SugaredLogger) (Opener, error) {
	switch cfg.Sink {
	case "", "csv":
		log.Infof("Writing results to %s", cfg.Dir)
		return CSVOpener{Dir: cfg.Dir}, nil
	case "clickhouse":
		return OpenClickHouse(cfg.ClickHouse, log)
	}
	return nil, fmt.Errorf("unknown result sink %q", cfg.Sink)
}
