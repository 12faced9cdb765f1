package consensus

import "WiFiSpectra/internal/model"

// Report is one ready node's AP list.
type Report struct {
	Node string
	APs  []model.APRecord
}

// Counter counts in how many reports each BSSID appears, remembering the
// first record seen for it.
type Counter struct {
	counts map[model.BSSID]int
	first  []model.APRecord
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[model.BSSID]int)}
}

// Add counts one node's list. A BSSID repeated within the list counts once.
func (c *Counter) Add(aps []model.APRecord) {
	seen := make(map[model.BSSID]bool, len(aps))
	for _, ap := range aps {
		if seen[ap.BSSID] {
			continue
		}
		seen[ap.BSSID] = true
		if c.counts[ap.BSSID] == 0 {
			c.first = append(c.first, ap)
		}
		c.counts[ap.BSSID]++
	}
}

// Count returns how many lists contained bssid.
func (c *Counter) Count(bssid model.BSSID) int {
	return c.counts[bssid]
}

// Seen returns how many distinct BSSIDs were counted.
func (c *Counter) Seen() int {
	return len(c.first)
}

// AtLeast returns the APs counted n times or more, in first-seen order.
func (c *Counter) AtLeast(n int) []model.APRecord {
	var out []model.APRecord
	for _, ap := range c.first {
		if c.counts[ap.BSSID] >= n {
			out = append(out, ap)
		}
	}
	return out
}

// Common returns the APs seen by every report, in first-seen order across
// the reports. No reports means no common APs.
func Common(reports []Report) []model.APRecord {
	if len(reports) == 0 {
		return nil
	}
	c := NewCounter()
	for _, r := range reports {
		c.Add(r.APs)
	}
	return c.AtLeast(len(reports))
}

// Find returns the AP with bssid from set.
func Find(set []model.APRecord, bssid model.BSSID) (model.APRecord, bool) {
	for _, ap := range set {
		if ap.BSSID == bssid {
			return ap, true
		}
	}
	return model.APRecord{}, false
}
