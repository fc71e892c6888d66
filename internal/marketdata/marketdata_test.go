package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"trading-screener/internal/model"
)

func TestSanitize(t *testing.T) {
	d := func(n int) time.Time { return time.Date(2026, 3, n, 0, 0, 0, 0, time.UTC) }
	bars := []model.PriceBar{
		{Time: d(3), Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
		{Time: d(2), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: d(4), Open: 10, High: math.NaN(), Low: 9, Close: 10, Volume: 100},
		{Time: d(3), Open: 10, High: 12, Low: 9, Close: 11, Volume: 200},
		{Time: d(5), Open: 0, High: 11, Low: 9, Close: 10, Volume: 100},
	}
	got, err := Sanitize(bars)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d: %+v", len(got), got)
	}
	if !got[0].Time.Equal(d(2)) || !got[1].Time.Equal(d(3)) {
		t.Errorf("not ascending: %v %v", got[0].Time, got[1].Time)
	}
	if got[1].Close != 11 {
		t.Errorf("duplicate timestamp should keep the later bar, got close %v", got[1].Close)
	}

	if _, err := Sanitize(bars[2:3]); !errors.Is(err, model.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", model.ErrNoData), ReasonNoData},
		{fmt.Errorf("x: %w", model.ErrTransient), ReasonTransient},
		{context.DeadlineExceeded, ReasonTransient},
		{timeoutErr{}, ReasonTransient},
		{fmt.Errorf("x: %w", model.ErrInsufficientHistory), ReasonInsufficient},
		{context.Canceled, ReasonCanceled},
		{errors.New("boom"), ReasonOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v)=%q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStatusError(t *testing.T) {
	if StatusError("p", 200) != nil {
		t.Error("200 should be nil")
	}
	if !errors.Is(StatusError("p", 503), model.ErrTransient) {
		t.Error("503 should be transient")
	}
	if !errors.Is(StatusError("p", 429), model.ErrTransient) {
		t.Error("429 should be transient")
	}
	if !errors.Is(StatusError("p", 404), model.ErrNoData) {
		t.Error("404 should be no data")
	}
}

func TestWrapTransport(t *testing.T) {
	if !errors.Is(WrapTransport("p", errors.New("connection reset")), model.ErrTransient) {
		t.Error("transport error should become transient")
	}
	nd := fmt.Errorf("x: %w", model.ErrNoData)
	if got := WrapTransport("p", nd); got != nd {
		t.Error("classified error should pass through")
	}
	if WrapTransport("p", nil) != nil {
		t.Error("nil should stay nil")
	}
}
