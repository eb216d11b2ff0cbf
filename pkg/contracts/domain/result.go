package domain

import (
	"fmt"
	"time"
)

// SamplePoint is the final quantity computed for one unknown row.
type SamplePoint struct {
	Index    int     `json:"index"`
	Quantity float64 `json:"quantity"`
}

// ResultSeries is the output of processing one tab, in source row order.
type ResultSeries struct {
	Points []SamplePoint `json:"points"`
}

// Len returns the number of samples in the series.
func (s ResultSeries) Len() int {
	return len(s.Points)
}

// Values returns the quantities of the series in order.
func (s ResultSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Quantity
	}
	return out
}

// ReplicateKey identifies one buffered tab result: which run, which analyte
// and which replicate sheet it came from.
type ReplicateKey struct {
	RunID     string `json:"run_id"`
	Analyte   string `json:"analyte"`
	Replicate int    `json:"replicate"`
}

// Group returns the replicate group the key belongs to.
func (k ReplicateKey) Group() GroupKey {
	return GroupKey{RunID: k.RunID, Analyte: k.Analyte}
}

func (k ReplicateKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.RunID, k.Analyte, k.Replicate)
}

// GroupKey identifies a replicate group: the same analyte of the same run
// measured across the replicate sheets.
type GroupKey struct {
	RunID   string `json:"run_id"`
	Analyte string `json:"analyte"`
}

func (k GroupKey) String() string {
	return k.RunID + "/" + k.Analyte
}

// Less orders group keys by run, then analyte.
func (k GroupKey) Less(other GroupKey) bool {
	if k.RunID != other.RunID {
		return k.RunID < other.RunID
	}
	return k.Analyte < other.Analyte
}

// FlushedGroup is a complete replicate group ready for persistence: the
// member series concatenated in ascending replicate order.
type FlushedGroup struct {
	Key       GroupKey       `json:"key"`
	Members   []ReplicateKey `json:"members"`
	Values    []float64      `json:"values"`
	FlushedAt time.Time      `json:"flushed_at"`
}

// Replicates returns the replicate ordinals of the members in output order.
func (g FlushedGroup) Replicates() []int {
	out := make([]int, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Replicate
	}
	return out
}
