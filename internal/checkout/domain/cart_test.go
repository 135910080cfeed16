package domain_test

import (
	"errors"
	"testing"

	"github.com/dejobratic/checkout/internal/checkout/domain"
)

func TestValidateQuantity(t *testing.T) {
	tests := []struct {
		name    string
		qty     int
		wantErr bool
	}{
		{"positive", 1, false},
		{"large", 1000, false},
		{"zero", 0, true},
		{"negative", -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateQuantity(tt.qty)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateQuantity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCartLine(t *testing.T) {
	cart := domain.Cart{Lines: []domain.CartLine{{ID: "l-1", ProductID: "p-1", Quantity: 2}}}

	if _, ok := cart.Line("l-1"); !ok {
		t.Error("expected line l-1 to be found")
	}
	if _, ok := cart.Line("l-2"); ok {
		t.Error("expected line l-2 to be missing")
	}
	if cart.IsEmpty() {
		t.Error("cart with lines should not be empty")
	}
}
