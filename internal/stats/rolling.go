package stats

// VariabilityWindow is how many of the most recent squared deviations are
// summed into the variability estimate.
const VariabilityWindow = 5

// Sample is the output of RollingStats for one RSSI value.
type Sample struct {
	Raw         int32
	Average     float64
	Deviation   float64 // Raw - Average
	Variability float64 // sum of the last VariabilityWindow squared deviations
	Baseline    bool    // true once the sample window has been filled
}

// RollingStats keeps the RSSI baseline of one capture node.
//
// The average is recomputed over the whole sample window on every insertion.
// It only counts as a baseline once the window has been filled at least once;
// from then on each new sample's squared deviation is recorded, and the
// variability estimate is the sum, not the mean, of the latest few of them.
// Downstream normalization depends on that exact quantity.
type RollingStats struct {
	samples    *CircularBuffer[int32]
	deviations *CircularBuffer[float64]
	average    float64
	baseline   bool
}

// NewRollingStats creates stats with a sample window of the given size. The
// deviation history holds at least VariabilityWindow entries.
func NewRollingStats(window int) *RollingStats {
	return &RollingStats{
		samples:    NewCircularBuffer[int32](window),
		deviations: NewCircularBuffer[float64](max(window, VariabilityWindow)),
	}
}

// Add feeds one RSSI value and returns the resulting sample record.
func (s *RollingStats) Add(raw int32) Sample {
	established := s.baseline

	s.samples.Put(raw)
	s.average = mean(s.samples)

	if !established && s.samples.IsFull() {
		s.baseline = true
	}

	dev := float64(raw) - s.average
	if established {
		s.deviations.Put(dev * dev)
	}

	return Sample{
		Raw:         raw,
		Average:     s.average,
		Deviation:   dev,
		Variability: s.Variability(),
		Baseline:    s.baseline,
	}
}

// Average is the mean of the current sample window.
func (s *RollingStats) Average() float64 { return s.average }

// BaselineEstablished reports whether the sample window has been filled.
func (s *RollingStats) BaselineEstablished() bool { return s.baseline }

// DeviationCount is the number of squared deviations currently held.
func (s *RollingStats) DeviationCount() int { return s.deviations.Len() }

// Variability sums the most recent min(VariabilityWindow, DeviationCount())
// squared deviations.
func (s *RollingStats) Variability() float64 {
	n := s.deviations.Len()
	from := n - VariabilityWindow
	if from < 0 {
		from = 0
	}
	sum := 0.0
	for i := from; i < n; i++ {
		v, _ := s.deviations.Get(i)
		sum += v
	}
	return sum
}

// Reset drops all history, as when a new capture starts.
func (s *RollingStats) Reset() {
	s.samples.Reset()
	s.deviations.Reset()
	s.average = 0
	s.baseline = false
}

func mean(b *CircularBuffer[int32]) float64 {
	if b.Len() == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < b.Len(); i++ {
		v, _ := b.Get(i)
		sum += int64(v)
	}
	return float64(sum) / float64(b.Len())
}
