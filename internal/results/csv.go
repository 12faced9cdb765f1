package results

import (
	"WiFiSpectra/internal/model"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// FileName is the result file of a node for a capture started at start.
func FileName(nodeID string, start time.Time) string {
	return fmt.Sprintf("%s_%d.csv", nodeID, start.Unix())
}

// CSVWriter appends a node's sample records to a ';'-separated file. The
// first line is the measured AP, every following line one sample.
type CSVWriter struct {
	file *os.File
	w    *csv.Writer
}

// NewCSVWriter creates <dir>/<nodeId>_<epoch>.csv.
func NewCSVWriter(dir, nodeID string, start time.Time) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(dir, FileName(nodeID, start))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create result file '%s': %w", path, err)
	}
	w := csv.NewWriter(file)
	w.Comma = ';'
	return &CSVWriter{file: file, w: w}, nil
}

// Path is the result file location.
func (c *CSVWriter) Path() string {
	return c.file.Name()
}

func (c *CSVWriter) WriteHeader(ap model.APRecord) error {
	return c.write([]string{ap.SSID, ap.BSSID.String(), strconv.Itoa(int(ap.Channel))})
}

func (c *CSVWriter) Write(rec model.SampleRecord) error {
	return c.write([]string{
		strconv.FormatUint(rec.Timestamp, 10),
		strconv.Itoa(int(rec.Raw)),
		strconv.FormatFloat(rec.Average, 'f', 3, 64),
		strconv.FormatFloat(rec.Deviation, 'f', 3, 64),
		strconv.FormatFloat(rec.Variability, 'f', 3, 64),
	})
}

func (c *CSVWriter) write(fields []string) error {
	if err := c.w.Write(fields); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.file.Name(), err)
	}
	return nil
}

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	if err := c.Flush(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}
