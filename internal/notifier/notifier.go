// Package notifier emails run reports to the configured administrators.
// Delivery is strictly best effort: an unconfigured or failing relay is
// logged and reported as "not sent", never as a pipeline failure.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/donorsync/reconcile-api/internal/models"
	"github.com/donorsync/reconcile-api/internal/reporter"
)

// Notifier sends the post-run summary email.
type Notifier struct {
	logger *slog.Logger
}

// New creates a new notifier.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger.With("component", "notifier")}
}

// Send composes the plaintext summary and delivers it with every CSV and
// the combined JSON attached. Returns whether the email was sent. When the
// sender or recipient list is unset, sending is skipped.
func (n *Notifier) Send(ctx context.Context, settings models.EmailSettings, artifacts *reporter.Artifacts, results []models.MatchResult) bool {
	if settings.SenderEmail == "" || len(settings.AdminEmails) == 0 {
		n.logger.Warn("email not configured, skipping send")
		return false
	}

	msg := mail.NewMsg()
	if err := msg.From(settings.SenderEmail); err != nil {
		n.logger.Error("invalid sender address", "error", err)
		return false
	}
	if err := msg.To(settings.AdminEmails...); err != nil {
		n.logger.Error("invalid recipient address", "error", err)
		return false
	}
	msg.Subject(fmt.Sprintf("Reconciliation Report - %s", time.Now().Format("2006-01-02 15:04")))
	msg.SetBodyString(mail.TypeTextPlain, buildBody(results))

	for _, path := range artifacts.CSVPaths {
		if _, err := os.Stat(path); err == nil {
			msg.AttachFile(path)
		}
	}
	if _, err := os.Stat(artifacts.CombinedJSONPath); err == nil {
		msg.AttachFile(artifacts.CombinedJSONPath)
	}

	client, err := mail.NewClient(settings.SMTPHost,
		mail.WithPort(settings.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(settings.SenderEmail),
		mail.WithPassword(settings.SenderPassword),
	)
	if err != nil {
		n.logger.Error("failed to create SMTP client", "error", err)
		return false
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		n.logger.Error("email send failed", "error", err)
		return false
	}

	n.logger.Info("email sent", "recipients", len(settings.AdminEmails))
	return true
}

// buildBody renders the plaintext summary: overall totals plus one line
// per client with matched/unmatched/rate/status.
func buildBody(results []models.MatchResult) string {
	totalMatched, totalUnmatched := 0, 0
	for _, r := range results {
		totalMatched += r.MatchedCount
		totalUnmatched += r.UnmatchedCount
	}

	var b strings.Builder
	b.WriteString("Reconciliation Report\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Clients Processed: %d\n", len(results))
	fmt.Fprintf(&b, "Total Matched: %d\n", totalMatched)
	fmt.Fprintf(&b, "Total Unmatched: %d\n", totalUnmatched)
	b.WriteString("\nPer Client Summary:\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")

	for _, r := range results {
		status := "OK"
		if r.Error != "" {
			status = "ERROR"
		}
		fmt.Fprintf(&b, "  %s: Matched=%d, Unmatched=%d, Rate=%.1f%% [%s]\n",
			r.ClientName, r.MatchedCount, r.UnmatchedCount, r.MatchRate, status)
	}

	return b.String()
}
