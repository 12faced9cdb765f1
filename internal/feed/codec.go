package feed

import (
	"WiFiSpectra/internal/model"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subject returns the NATS subject carrying nodeID's samples. Characters
// that separate or match subject tokens are replaced.
func Subject(prefix, nodeID string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return prefix + "." + r.Replace(nodeID)
}

// Filter returns the subject filter matching the samples of nodeID, or of
// every node when nodeID is empty.
func Filter(prefix, nodeID string) string {
	if nodeID == "" {
		return prefix + ".>"
	}
	return Subject(prefix, nodeID)
}

// Encode serializes a sample record as a protobuf Struct.
func Encode(rec model.SampleRecord) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"node":        rec.NodeID,
		"timestamp":   float64(rec.Timestamp),
		"raw":         float64(rec.Raw),
		"average":     rec.Average,
		"deviation":   rec.Deviation,
		"variability": rec.Variability,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build sample struct: %w", err)
	}
	return proto.Marshal(s)
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (model.SampleRecord, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return model.SampleRecord{}, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	f := s.GetFields()
	node := f["node"].GetStringValue()
	if node == "" {
		return model.SampleRecord{}, fmt.Errorf("sample without node")
	}
	return model.SampleRecord{
		NodeID:      node,
		Timestamp:   uint64(f["timestamp"].GetNumberValue()),
		Raw:         int32(f["raw"].GetNumberValue()),
		Average:     f["average"].GetNumberValue(),
		Deviation:   f["deviation"].GetNumberValue(),
		Variability: f["variability"].GetNumberValue(),
	}, nil
}
