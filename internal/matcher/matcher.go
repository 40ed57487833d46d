// Package matcher reconciles checkout journeys against confirmed
// transactions. Matching is set-based: one pass over the transactions to
// build the lookup structures, one pass over the checkouts to classify
// them, linear in the size of both inputs.
package matcher

import (
	"log/slog"
	"sync"

	"github.com/donorsync/reconcile-api/internal/models"
)

// Matcher runs the match stage of the pipeline.
type Matcher struct {
	logger *slog.Logger
}

// New creates a new matcher.
func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger.With("component", "matcher")}
}

// MatchClient reconciles a single client's checkouts against its
// transactions.
//
// A checkout matches when its payment-intent id appears in the set of
// transaction references. Checkouts without a payment-intent id are
// excluded from both outputs; this is deliberate, such rows never reached
// the payment processor and have nothing to reconcile. On a match the
// reference is removed from the working set (the reference-to-transaction
// mapping is kept, so a duplicated intent id across checkouts would still
// resolve its transaction).
//
// The input's raw record lists are released once consumed - nothing
// downstream needs them and large clients would otherwise pin both copies
// of the data in memory for the rest of the run.
func (m *Matcher) MatchClient(data *models.ClientFetchResult) models.MatchResult {
	result := models.MatchResult{ClientName: data.ClientName}

	if data.Error != "" {
		result.Error = data.Error
		return result
	}

	result.TotalCheckouts = data.CheckoutCount
	result.TotalTransactions = data.TransactionCount

	refSet := make(map[string]struct{}, len(data.Transactions))
	txnByRef := make(map[string]models.Record, len(data.Transactions))
	for _, txn := range data.Transactions {
		ref := txn.GetString(models.FieldPayaReference)
		if ref == "" {
			continue
		}
		refSet[ref] = struct{}{}
		if _, seen := txnByRef[ref]; !seen {
			txnByRef[ref] = txn
		}
	}
	data.Transactions = nil

	for _, checkout := range data.Checkouts {
		pi := checkout.GetString(models.FieldPaymentIntent)
		if pi == "" {
			continue
		}

		if _, ok := refSet[pi]; ok {
			txn := txnByRef[pi]
			if txn == nil {
				txn = models.Record{}
			}
			result.Matched = append(result.Matched, models.MatchedRecord{
				Checkout:      checkout,
				Transaction:   txn,
				PaymentIntent: pi,
			})
			delete(refSet, pi)
		} else {
			result.Unmatched = append(result.Unmatched, checkout)
		}
	}
	data.Checkouts = nil

	result.MatchedCount = len(result.Matched)
	result.UnmatchedCount = len(result.Unmatched)

	if total := result.MatchedCount + result.UnmatchedCount; total > 0 {
		result.MatchRate = float64(result.MatchedCount) / float64(total) * 100
	}

	m.logger.Info("matched client",
		"client", data.ClientName,
		"matched", result.MatchedCount,
		"unmatched", result.UnmatchedCount,
		"rate", result.MatchRate,
	)
	return result
}

// MatchAll reconciles every client using a bounded worker pool. The match
// stage is compute-bound, so parallelism is capped at maxWorkers rather
// than fanned out per client the way the fetch stage is. Output order
// matches input order and clients are fully isolated from each other.
func (m *Matcher) MatchAll(data []models.ClientFetchResult, maxWorkers int) []models.MatchResult {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	m.logger.Info("starting matching", "clients", len(data), "workers", maxWorkers)

	results := make([]models.MatchResult, len(data))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = m.MatchClient(&data[i])
			}
		}()
	}
	for i := range data {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	totalMatched, totalUnmatched := 0, 0
	for _, r := range results {
		totalMatched += r.MatchedCount
		totalUnmatched += r.UnmatchedCount
	}
	m.logger.Info("matching complete", "matched", totalMatched, "unmatched", totalUnmatched)

	return results
}
