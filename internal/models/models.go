// Package models defines the domain models for the reconciliation pipeline.
// Checkout and transaction payloads are loosely typed: client APIs only
// guarantee the two join-key fields, everything else is passed through to
// reports unmodified.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names the matcher reads from client payloads. These are the only
// contractually guaranteed fields on checkout and transaction records.
const (
	FieldPaymentIntent = "stripe_payment_intent_id"
	FieldPayaReference = "paya_reference"
)

// Record is one row fetched verbatim from a client API.
type Record map[string]any

// GetString returns the value for key rendered as a string, or "" when the
// key is absent or null. Numeric identifiers arrive as JSON numbers from some
// clients, so those are formatted rather than dropped.
func (r Record) GetString(key string) string {
	if r == nil {
		return ""
	}
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ClientConfig is the identity and connection info for one client
// organization. Immutable for the duration of a run.
type ClientConfig struct {
	Name        string `json:"name"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	TablePrefix string `json:"table_prefix"`
	Enabled     bool   `json:"enabled"`
}

// EmailSettings configures the admin notification relay.
type EmailSettings struct {
	SMTPHost       string   `json:"smtp_host"`
	SMTPPort       int      `json:"smtp_port"`
	SenderEmail    string   `json:"sender_email"`
	SenderPassword string   `json:"sender_password"`
	AdminEmails    []string `json:"admin_emails"`
}

// RunSettings holds the knobs scoped to one pipeline run.
type RunSettings struct {
	Days           int           `json:"days"`
	MaxWorkers     int           `json:"max_workers"`
	FetchPageSize  int           `json:"fetch_page_size"`
	RequestTimeout int           `json:"request_timeout"` // seconds, per HTTP request
	Email          EmailSettings `json:"email"`
}

// Timeout returns the per-request HTTP timeout as a duration.
func (s RunSettings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// AppConfig is one run's view of the config store: enabled clients plus
// settings, loaded fresh at the start of each run.
type AppConfig struct {
	Clients  []ClientConfig `json:"clients"`
	Settings RunSettings    `json:"settings"`
}

// ClientFetchResult is one client's raw fetch output. A fetch failure is
// carried in Error with empty data; it is data, not an exception.
type ClientFetchResult struct {
	ClientName       string
	Checkouts        []Record
	Transactions     []Record
	CheckoutCount    int
	TransactionCount int
	Error            string
}

// MatchedRecord pairs a checkout with the transaction that confirms it.
type MatchedRecord struct {
	Checkout      Record `json:"checkout"`
	Transaction   Record `json:"transaction"`
	PaymentIntent string `json:"payment_intent"`
}

// MatchResult is one client's reconciliation outcome. A client whose fetch
// failed produces an error-only result with zero counts.
type MatchResult struct {
	ClientName        string
	Matched           []MatchedRecord
	Unmatched         []Record
	MatchedCount      int
	UnmatchedCount    int
	TotalCheckouts    int
	TotalTransactions int
	MatchRate         float64
	Error             string
}

// UnmatchedRecord is the fixed projection of an unmatched checkout used in
// reports and run summaries. Values pass through untyped.
type UnmatchedRecord struct {
	ID            any `json:"id"`
	InvoiceID     any `json:"invoiceid"`
	OrderNo       any `json:"order_no"`
	PaymentIntent any `json:"payment_intent"`
	PaymentStatus any `json:"payment_status"`
	Amount        any `json:"amount"`
	Currency      any `json:"currency"`
	DonorEmail    any `json:"donor_email"`
	DonorName     any `json:"donor_name"`
	CreatedAt     any `json:"created_at"`
}

// ProjectUnmatched builds the report projection of an unmatched checkout.
func ProjectUnmatched(c Record) UnmatchedRecord {
	return UnmatchedRecord{
		ID:            c["id"],
		InvoiceID:     c["invoiceid"],
		OrderNo:       c["order_no"],
		PaymentIntent: c[FieldPaymentIntent],
		PaymentStatus: c["payment_status"],
		Amount:        c["total_amount"],
		Currency:      c["currency"],
		DonorEmail:    c["donor_email"],
		DonorName:     c["donor_name"],
		CreatedAt:     c["created_at"],
	}
}

// ClientRunSummary is one client's slice of a run summary.
type ClientRunSummary struct {
	Name              string            `json:"name"`
	Matched           int               `json:"matched"`
	Unmatched         int               `json:"unmatched"`
	TotalCheckouts    int               `json:"total_checkouts"`
	TotalTransactions int               `json:"total_transactions"`
	MatchRate         float64           `json:"match_rate"`
	Error             string            `json:"error,omitempty"`
	UnmatchedRecords  []UnmatchedRecord `json:"unmatched_records"`
}

// RunTotals aggregates counts across all clients in a run.
type RunTotals struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Errors    int `json:"errors"`
}

// RunSummary is the externally visible result of one pipeline execution.
type RunSummary struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Days           int                `json:"days"`
	EmailSent      bool               `json:"email_sent"`
	ReportDir      string             `json:"report_dir"`
	Clients        []ClientRunSummary `json:"clients"`
	Totals         RunTotals          `json:"totals"`
}

// ClientSummary returns the case-insensitive lookup of one client's summary.
func (s *RunSummary) ClientSummary(name string) (ClientRunSummary, bool) {
	for _, c := range s.Clients {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ClientRunSummary{}, false
}
