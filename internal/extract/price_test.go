package extract

import (
	"math"
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantValue    float64
		wantCurrency string
		wantErr      bool
	}{
		{"us thousands", "$4,589.00", 4589.00, "USD", false},
		{"us thousands in sentence", "Sale price: $1,234.56 today only", 1234.56, "USD", false},
		{"plain decimal", "$49.99", 49.99, "USD", false},
		{"pound", "£1,299.00", 1299.00, "GBP", false},
		{"euro comma decimal", "€49,99", 49.99, "EUR", false},
		{"euro thousands dot", "€1.234,56", 1234.56, "EUR", false},
		{"euro thousands space", "€1 234,56", 1234.56, "EUR", false},
		{"yen", "¥3,980", 3980, "JPY", false},
		{"currency code suffix", "4589.00 USD", 4589.00, "USD", false},
		{"bare number", "4589.00", 4589.00, "", false},
		{"bare with thousands", "4,589.00", 4589.00, "", false},
		{"symbol with space", "$ 899", 899, "USD", false},
		{"no price", "Out of stock", 0, "", true},
		{"empty", "   ", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, currency, err := ParsePrice(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrice(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if math.Abs(value-tt.wantValue) > 1e-9 {
				t.Errorf("ParsePrice(%q) value = %v, want %v", tt.text, value, tt.wantValue)
			}
			if currency != tt.wantCurrency {
				t.Errorf("ParsePrice(%q) currency = %q, want %q", tt.text, currency, tt.wantCurrency)
			}
		})
	}
}

func TestCurrencyPrefixed(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"$4,589.00", true},
		{"€ 49,99", true},
		{"Only 4589.00 left", false},
		{"Call for price", false},
	}
	for _, tt := range tests {
		if got := currencyPrefixed(tt.text); got != tt.want {
			t.Errorf("currencyPrefixed(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
