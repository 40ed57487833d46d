package models

import "testing"

func TestRecordGetString(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		key  string
		want string
	}{
		{"string value", Record{"id": "ck_1"}, "id", "ck_1"},
		{"numeric id", Record{"id": float64(42)}, "id", "42"},
		{"fractional number", Record{"amount": 10.5}, "amount", "10.5"},
		{"bool value", Record{"flag": true}, "flag", "true"},
		{"null value", Record{"id": nil}, "id", ""},
		{"missing key", Record{}, "id", ""},
		{"nil record", nil, "id", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.GetString(tt.key); got != tt.want {
				t.Errorf("GetString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRunSummaryClientSummary(t *testing.T) {
	s := &RunSummary{Clients: []ClientRunSummary{
		{Name: "Acme", Matched: 3},
		{Name: "Globex", Matched: 1},
	}}

	t.Run("case-insensitive match", func(t *testing.T) {
		c, ok := s.ClientSummary("acme")
		if !ok {
			t.Fatal("expected client to be found")
		}
		if c.Matched != 3 {
			t.Errorf("Matched = %d, want 3", c.Matched)
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		if _, ok := s.ClientSummary("initech"); ok {
			t.Error("expected lookup to fail")
		}
	})
}

func TestProjectUnmatched(t *testing.T) {
	rec := Record{
		"id":                       "ck_9",
		"invoiceid":                "inv_9",
		"order_no":                 "ord_9",
		FieldPaymentIntent:         "pi_9",
		"payment_status":           "pending",
		"total_amount":             25.0,
		"currency":                 "GBP",
		"donor_email":              "donor@example.org",
		"donor_name":               "A Donor",
		"created_at":               "2026-08-01 12:00:00",
		"some_client_custom_field": "ignored",
	}

	p := ProjectUnmatched(rec)
	if p.ID != "ck_9" || p.PaymentIntent != "pi_9" || p.Amount != 25.0 {
		t.Errorf("unexpected projection: %+v", p)
	}
	if p.CreatedAt != "2026-08-01 12:00:00" {
		t.Errorf("CreatedAt = %v", p.CreatedAt)
	}
}
