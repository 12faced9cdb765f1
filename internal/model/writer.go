package model

// SampleRecord is the normalized output of the rolling statistics for one
// RSSI sample.
type SampleRecord struct {
	NodeID      string
	Timestamp   uint64 // capture time in milliseconds since the Unix epoch
	Raw         int32
	Average     float64
	Deviation   float64
	Variability float64
}

// Writer defines a generic interface for persisting a node's sample records.
type Writer interface {
	// WriteHeader records the identity of the AP being measured. It is called
	// once, before any sample.
	WriteHeader(ap APRecord) error

	// Write appends one sample record.
	Write(rec SampleRecord) error

	// Flush pushes buffered records to the underlying store.
	Flush() error

	// Close flushes and releases the writer.
	Close() error
}
