package screener

import (
	"fmt"
	"math"
	"sort"

	"trading-screener/internal/strategy"
)

// RankKey orders passing candidates before top-N truncation.
type RankKey string

const (
	RankConfidence  RankKey = "confidence" // confidence, then volume ratio
	RankVolumeRatio RankKey = "volume_ratio"
	RankValue       RankKey = "value"
	RankVolume      RankKey = "volume"
)

// ParseRankKey validates a configured ranking key. Empty means confidence.
func ParseRankKey(s string) (RankKey, error) {
	switch k := RankKey(s); k {
	case "":
		return RankConfidence, nil
	case RankConfidence, RankVolumeRatio, RankValue, RankVolume:
		return k, nil
	}
	return "", fmt.Errorf("unknown rank key %q", s)
}

func score(d *strategy.Draft, k RankKey) []float64 {
	switch k {
	case RankVolumeRatio:
		return []float64{d.VolumeRatio, d.Confidence}
	case RankValue:
		return []float64{d.Value, d.Confidence}
	case RankVolume:
		return []float64{d.Volume, d.Confidence}
	}
	return []float64{d.Confidence, d.VolumeRatio}
}

// Rank sorts drafts best first. NaN sorts last; equal scores fall back to
// symbol order so results are deterministic.
func Rank(drafts []*strategy.Draft, k RankKey) {
	sort.SliceStable(drafts, func(i, j int) bool {
		a, b := score(drafts[i], k), score(drafts[j], k)
		for n := range a {
			x, y := a[n], b[n]
			if math.IsNaN(x) {
				x = math.Inf(-1)
			}
			if math.IsNaN(y) {
				y = math.Inf(-1)
			}
			if x != y {
				return x > y
			}
		}
		return drafts[i].Symbol < drafts[j].Symbol
	})
}
