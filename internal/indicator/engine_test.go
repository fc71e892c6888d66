package indicator

import (
	"math"
	"testing"
	"time"

	"trading-screener/internal/model"
)

func series(closes []float64, volume float64) []model.PriceBar {
	out := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		out[i] = model.PriceBar{
			Time:   day0.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c - 1,
			High:   c + 1,
			Low:    c - 2,
			Close:  c,
			Volume: volume,
		}
	}
	return out
}

func TestSpec_MinBars(t *testing.T) {
	spec := Spec{RSIPeriod: 14, SMAPeriods: []int{5, 50}, EMAPeriods: []int{20}, VolumePeriod: 20, ATRPeriod: 14, RangeWindow: 20}
	if got := spec.MinBars(); got != 50 {
		t.Errorf("MinBars()=%d, want 50", got)
	}
	spec = Spec{RSIPeriod: 30, SMAPeriods: []int{5}, EMAPeriods: []int{5}, VolumePeriod: 5, ATRPeriod: 5, RangeWindow: 5}
	if got := spec.MinBars(); got != 31 {
		t.Errorf("MinBars()=%d, want 31 (RSI needs period+1 closes)", got)
	}
}

func TestSpec_Merge(t *testing.T) {
	a := Spec{SMAPeriods: []int{5, 20}, VolumePeriod: 5}
	b := Spec{SMAPeriods: []int{20, 50}, VolumePeriod: 20, ATRWilder: true}
	m := a.Merge(b)
	if len(m.SMAPeriods) != 3 || m.SMAPeriods[0] != 5 || m.SMAPeriods[2] != 50 {
		t.Errorf("merged SMA periods = %v", m.SMAPeriods)
	}
	if m.VolumePeriod != 20 || !m.ATRWilder {
		t.Errorf("merged spec = %+v", m)
	}
}

func TestCompute_ShortSequenceIsNotWarm(t *testing.T) {
	spec := DefaultSpec()
	bars := series([]float64{100, 101, 102, 103, 104, 105}, 1000)

	snap := Compute(bars, spec)
	if snap.Warm {
		t.Fatal("6 bars must not be warm for the default spec")
	}
	assertNaN(t, "RSI", snap.RSI)
	assertNaN(t, "VolumeMA", snap.VolumeMA)
	assertNaN(t, "SMA(20)", snap.SMAValue(20))
	assertClose(t, "SMA(5)", snap.SMAValue(5), 103, 1e-9)
	assertNaN(t, "VolumeRatio", snap.VolumeRatio())
}

func TestCompute_Empty(t *testing.T) {
	snap := Compute(nil, DefaultSpec())
	if snap.Warm {
		t.Fatal("empty sequence must not be warm")
	}
	assertNaN(t, "Close", snap.Close)
	assertNaN(t, "ChangePct", snap.ChangePct())
}

func TestCompute_WarmSnapshot(t *testing.T) {
	spec := Spec{RSIPeriod: 5, SMAPeriods: []int{5}, EMAPeriods: []int{5}, VolumePeriod: 5, ATRPeriod: 5, RangeWindow: 5, HighWindow: 10}
	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := series(closes, 1000)
	bars[len(bars)-1].Volume = 3000 // spike on the last bar

	snap := Compute(bars, spec)
	if !snap.Warm {
		t.Fatal("expected warm snapshot")
	}
	if snap.Index != 11 {
		t.Errorf("Index=%d, want 11", snap.Index)
	}
	assertClose(t, "PrevClose", snap.PrevClose, 110, 0)
	assertClose(t, "ChangePct", snap.ChangePct(), 100.0/110.0, 1e-9)
	// prior 5 highs: closes 106..110 + 1
	assertClose(t, "Resistance", snap.Resistance, 111, 0)
	assertClose(t, "Support", snap.Support, 104, 0)
	// period high includes the current bar: 111 + 1
	assertClose(t, "PeriodHigh", snap.PeriodHigh, 112, 0)
	// volume MA(5) = (4×1000 + 3000)/5 = 1400
	assertClose(t, "VolumeMA", snap.VolumeMA, 1400, 1e-9)
	assertClose(t, "VolumeRatio", snap.VolumeRatio(), 3000.0/1400.0, 1e-9)
	assertClose(t, "RSI uptrend", snap.RSI, 100, 1e-9)
	// every TR = max(3, |c+1-(c-1)|, |c-2-(c-1)|) = 3
	assertClose(t, "ATR", snap.ATR, 3, 1e-9)
	assertClose(t, "NearHighRatio", snap.NearHighRatio(), 111.0/112.0, 1e-9)
	if !snap.Green() {
		t.Error("expected green bar (close > open)")
	}
}

func TestSeries_MatchesCompute(t *testing.T) {
	closes := []float64{10, 11, 12, 11, 10, 9, 10, 12, 14, 13, 15, 16, 15, 14, 16, 18, 17, 19, 20, 21, 22, 20}
	bars := series(closes, 500)
	spec := Spec{RSIPeriod: 5, SMAPeriods: []int{3}, EMAPeriods: []int{4}, VolumePeriod: 3, ATRPeriod: 3, RangeWindow: 4, HighWindow: 30}

	all := Series(bars, spec)
	if len(all) != len(bars) {
		t.Fatalf("len(Series)=%d, want %d", len(all), len(bars))
	}
	for _, n := range []int{1, 7, 15, len(bars)} {
		want := Compute(bars[:n], spec)
		got := all[n-1]
		if got.Warm != want.Warm || !same(got.RSI, want.RSI) || !same(got.EMAValue(4), want.EMAValue(4)) || !same(got.Resistance, want.Resistance) {
			t.Errorf("prefix %d: series snapshot %+v != compute %+v", n, got, want)
		}
	}
}

func TestVolumeRatio_ZeroAverageIsUndefined(t *testing.T) {
	spec := Spec{RSIPeriod: 2, SMAPeriods: []int{2}, EMAPeriods: []int{2}, VolumePeriod: 3, ATRPeriod: 2, RangeWindow: 2}
	bars := series([]float64{10, 10, 10, 10}, 0)
	snap := Compute(bars, spec)
	assertNaN(t, "VolumeRatio with zero volume MA", snap.VolumeRatio())
}

func same(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

func TestCompute_ExtraVolumeWindows(t *testing.T) {
	spec := Spec{RSIPeriod: 2, SMAPeriods: []int{2}, EMAPeriods: []int{2}, VolumePeriod: 4, VolumeMAs: []int{2}, ATRPeriod: 2, RangeWindow: 2}
	bars := series([]float64{10, 11, 12, 13}, 100)
	bars[2].Volume = 300
	bars[3].Volume = 500

	snap := Compute(bars, spec)
	// MA(4) = (100+100+300+500)/4 = 250, MA(2) = (300+500)/2 = 400
	assertClose(t, "VolumeRatio", snap.VolumeRatio(), 2.0, 1e-9)
	assertClose(t, "VolumeRatioN(2)", snap.VolumeRatioN(2), 1.25, 1e-9)
	assertNaN(t, "VolumeRatioN(9)", snap.VolumeRatioN(9))
}
