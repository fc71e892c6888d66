package tradeplan

import (
	"errors"
	"math"
	"testing"

	"trading-screener/internal/model"
)

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func TestCompute_ATR(t *testing.T) {
	p := Profile{Model: ATR, ATRMultiplier: 1, RewardRisk: 1.5, TickSize: 1}
	plan, err := Compute(1000, model.Buy, Volatility{ATR: 20}, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertClose(t, "stop", plan.StopLoss, 980)
	if len(plan.Targets) != 1 {
		t.Fatalf("targets=%v", plan.Targets)
	}
	assertClose(t, "target", plan.Targets[0].Price, 1030)
	assertClose(t, "rr", plan.RiskReward(), 1.5)

	sell, err := Compute(1000, model.Sell, Volatility{ATR: 20}, p)
	if err != nil {
		t.Fatalf("Compute sell: %v", err)
	}
	assertClose(t, "sell stop", sell.StopLoss, 1020)
	assertClose(t, "sell target", sell.Targets[0].Price, 970)
}

func TestCompute_FixedPct(t *testing.T) {
	p := Profile{Model: FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1}
	plan, err := Compute(200, model.Buy, Volatility{}, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertClose(t, "target", plan.Targets[0].Price, 206)
	assertClose(t, "stop", plan.StopLoss, 196)
}

func TestCompute_Tiers(t *testing.T) {
	p := Profile{
		Model: FixedPct, StopPct: 2, TickSize: 1,
		Tiers: []Tier{{1, "TP1"}, {2, "TP2"}, {3, "TP3"}},
	}
	plan, err := Compute(1000, model.Buy, Volatility{}, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := []float64{1020, 1040, 1060}
	for i, w := range want {
		assertClose(t, plan.Targets[i].Label, plan.Targets[i].Price, w)
	}
	if plan.Targets[2].Label != "TP3" {
		t.Errorf("labels out of order: %v", plan.Targets)
	}
}

func TestRound_HalfUp(t *testing.T) {
	tests := []struct {
		v, tick, want float64
	}{
		{102.5, 1, 103},
		{102.49, 1, 102},
		{97.5, 1, 98},
		{1234, 5, 1235},
		{1232.4, 5, 1230},
		{0.125, 0.01, 0.13},
	}
	for _, tt := range tests {
		assertClose(t, "round", Round(tt.v, tt.tick), tt.want)
	}
}

func TestCompute_RoundsNotTruncates(t *testing.T) {
	// 2.5% of 1010 = 25.25: target 1035.25 → 1035, stop 1010 - 20.2 = 989.8 → 990.
	plan, err := Compute(1010, model.Buy, Volatility{}, Profile{Model: FixedPct, TargetPct: 2.5, StopPct: 2, TickSize: 1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertClose(t, "target", plan.Targets[0].Price, 1035)
	assertClose(t, "stop", plan.StopLoss, 990)
}

func TestCompute_OrderingHolds(t *testing.T) {
	profiles := []Profile{
		{Model: FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1},
		{Model: ATR, ATRMultiplier: 1.5, RewardRisk: 2, TickSize: 1},
		{Model: ATR, ATRMultiplier: 1, TickSize: 5, Tiers: []Tier{{1, "TP1"}, {2, "TP2"}}},
	}
	for _, p := range profiles {
		for _, entry := range []float64{150, 488, 1000, 9875} {
			for _, dir := range []model.Direction{model.Buy, model.Sell} {
				plan, err := Compute(entry, dir, Volatility{ATR: entry * 0.03}, p)
				if err != nil {
					t.Fatalf("%v %v %v: %v", p.Model, entry, dir, err)
				}
				s := dir.Sign()
				if (entry-plan.StopLoss)*s <= 0 {
					t.Errorf("%v %s: stop %v vs entry %v", p.Model, dir, plan.StopLoss, entry)
				}
				for _, tg := range plan.Targets {
					if (tg.Price-entry)*s <= 0 {
						t.Errorf("%v %s: target %v vs entry %v", p.Model, dir, tg.Price, entry)
					}
				}
			}
		}
	}
}

func TestCompute_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		entry float64
		dir   model.Direction
		vol   Volatility
		p     Profile
	}{
		{"zero entry", 0, model.Buy, Volatility{}, Profile{Model: FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1}},
		{"nan entry", math.NaN(), model.Buy, Volatility{}, Profile{Model: FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1}},
		{"bad direction", 100, "HOLD", Volatility{}, Profile{Model: FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1}},
		{"missing atr", 100, model.Buy, Volatility{ATR: math.NaN()}, Profile{Model: ATR, ATRMultiplier: 1, RewardRisk: 1.5, TickSize: 1}},
		{"unknown model", 100, model.Buy, Volatility{}, Profile{Model: "martingale"}},
		{"descending tiers", 100, model.Buy, Volatility{}, Profile{Model: FixedPct, StopPct: 2, TickSize: 1, Tiers: []Tier{{2, "A"}, {1, "B"}}}},
		// 1% of 50 rounds to a zero distance.
		{"collapses after rounding", 50, model.Buy, Volatility{}, Profile{Model: FixedPct, TargetPct: 0.5, StopPct: 0.5, TickSize: 1}},
	}
	for _, tt := range tests {
		if _, err := Compute(tt.entry, tt.dir, tt.vol, tt.p); !errors.Is(err, ErrInvalidPlan) {
			t.Errorf("%s: expected ErrInvalidPlan, got %v", tt.name, err)
		}
	}
}

func TestPlan_Apply(t *testing.T) {
	plan := Plan{Entry: 100, StopLoss: 98, Targets: []model.Target{{Label: "TP", Price: 103}}}
	var s model.Signal
	plan.Apply(&s)
	if s.StopLoss != 98 || s.FinalTarget() != 103 {
		t.Errorf("Apply: %+v", s)
	}
}
