package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestIsUndervalued(t *testing.T) {
	e := NewEvaluator(DefaultDiscount)

	cases := []struct {
		price, reference string
		want             bool
	}{
		{"0.840", "1.000", true},
		{"0.849999", "1.000", true},
		{"0.850", "1.000", false},
		{"0.900", "1.000", false},
		{"0.0849", "0.1", true},
		{"0.085", "0.1", false},
	}
	for _, tc := range cases {
		if got := e.IsUndervalued(d(tc.price), d(tc.reference)); got != tc.want {
			t.Errorf("IsUndervalued(%s, %s) = %v, want %v", tc.price, tc.reference, got, tc.want)
		}
	}
}

func TestNewEvaluatorFallsBackToDefault(t *testing.T) {
	e := NewEvaluator(decimal.Zero)
	if !e.Threshold(d("1")).Equal(d("0.85")) {
		t.Fatalf("threshold = %s, want 0.85", e.Threshold(d("1")))
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(d("0.1"), d("1")); err != nil {
		t.Fatalf("positive prices should validate: %v", err)
	}
	if err := Validate(d("0.1"), decimal.Zero); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero reference should fail, got %v", err)
	}
	if err := Validate(d("-1")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("negative price should fail, got %v", err)
	}
}

func TestMarkupAndRelist(t *testing.T) {
	if got := Markup(d("0.840"), DefaultMarkup); !got.Equal(d("0.882")) {
		t.Fatalf("markup = %s, want 0.882", got)
	}
	if got := Markup(d("0.1234565"), d("1")); !got.Equal(d("0.123457")) {
		t.Fatalf("markup rounding = %s, want 0.123457", got)
	}
	if got := RelistPrice(d("0.450"), DefaultMarkup, d("0.500")); !got.Equal(d("0.5")) {
		t.Fatalf("relist = %s, want 0.5", got)
	}
	if got := RelistPrice(d("0.490"), DefaultMarkup, d("0.500")); !got.Equal(d("0.5145")) {
		t.Fatalf("relist = %s, want 0.5145", got)
	}
}

func TestMinAcceptable(t *testing.T) {
	if got := MinAcceptable(d("1.000"), DefaultCounterOfferFloor); !got.Equal(d("0.95")) {
		t.Fatalf("min acceptable = %s, want 0.95", got)
	}
}
