package models

// DepthResult is the depth weighted price table for one side of a snapshot.
type DepthResult struct {
	// Prices maps a reached depth target to the average fill price.
	Prices map[float64]float64 `json:"prices"`
	// Success is true when every requested target was reached.
	Success bool `json:"success"`
	// MaxDepth is the cumulative quantity walked in the sampled book.
	MaxDepth float64 `json:"max_depth"`
}

// Price returns the average fill price at depth and whether it was reached.
func (r DepthResult) Price(depth float64) (float64, bool) {
	p, ok := r.Prices[depth]
	return p, ok
}

// DepthRecord is the time-series payload for one watcher after a refresh.
type DepthRecord struct {
	Exchange  string              `json:"exchange"`
	Market    string              `json:"market"`
	AskLevels map[float64]float64 `json:"ask_levels"`
	BidLevels map[float64]float64 `json:"bid_levels"`
}

// DepthBatch groups the depth records of one duty cycle under a single
// millisecond timestamp.
type DepthBatch struct {
	TimestampMs int64         `json:"timestamp_ms"`
	Records     []DepthRecord `json:"records"`
}
