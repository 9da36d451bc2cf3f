package ai

import "testing"

func TestParseStrictPrice(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   float64
		wantOK bool
	}{
		{"bare number", "4589.00", 4589.00, true},
		{"integer", "899", 899, true},
		{"comma grouped", "4,589.00", 4589.00, true},
		{"dollar prefix", "$4589.00", 4589.00, true},
		{"symbol with space", "£ 1,299.99", 1299.99, true},
		{"single decimal", "49.9", 49.9, true},
		{"surrounding whitespace", "  129.99  ", 129.99, true},
		{"not found token", "NOT_FOUND", 0, false},
		{"not found lowercase", "not_found", 0, false},
		{"free text", "The price is $49.99", 0, false},
		{"trailing words", "49.99 USD approx", 0, false},
		{"three decimals", "49.999", 0, false},
		{"zero is not a price", "0", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStrictPrice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseStrictPrice(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseStrictPrice(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewClientWithoutKeyIsNil(t *testing.T) {
	c, err := NewClient(t.Context(), "", "gemini-2.0-flash")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c != nil {
		t.Errorf("NewClient() = %v, want nil without an API key", c)
	}
}
