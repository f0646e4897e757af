package models

import "testing"

func TestIsValidPaymentTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{PaymentStatusPending, PaymentStatusProcessed, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusExpired, true},

		// Terminal statuses never move
		{PaymentStatusProcessed, PaymentStatusExpired, false},
		{PaymentStatusExpired, PaymentStatusProcessed, false},
		{PaymentStatusFailed, PaymentStatusPending, false},
		{PaymentStatusProcessed, PaymentStatusProcessed, false},

		{PaymentStatusPending, PaymentStatusPending, false},
		{"nonexistent", PaymentStatusProcessed, false},
		{PaymentStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidPaymentTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidPaymentTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllPaymentStatusesHaveTransitionEntry(t *testing.T) {
	all := []string{PaymentStatusPending, PaymentStatusProcessed, PaymentStatusFailed, PaymentStatusExpired}
	for _, status := range all {
		if _, ok := ValidPaymentTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidPaymentTransitions map", status)
		}
	}
}

func TestTerminalPaymentStatuses(t *testing.T) {
	for _, status := range []string{PaymentStatusProcessed, PaymentStatusFailed, PaymentStatusExpired} {
		if !IsTerminalPaymentStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
	}
	if IsTerminalPaymentStatus(PaymentStatusPending) {
		t.Errorf("PENDING must not be terminal")
	}
	if IsTerminalPaymentStatus("unknown") {
		t.Errorf("unknown status must not be terminal")
	}
}
