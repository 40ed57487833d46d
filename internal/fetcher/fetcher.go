package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/donorsync/reconcile-api/internal/models"
)

// Fetcher runs the fetch stage of the pipeline.
type Fetcher struct {
	logger *slog.Logger
}

// New creates a new fetcher.
func New(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{logger: logger.With("component", "fetcher")}
}

// FetchClient retrieves both record streams for a single client. The two
// streams are independent reads and are fetched concurrently. Any failure
// is captured on the result as data - it never propagates out of this
// method - and leaves the result with empty record lists.
func (f *Fetcher) FetchClient(ctx context.Context, client models.ClientConfig, settings models.RunSettings) models.ClientFetchResult {
	result := models.ClientFetchResult{ClientName: client.Name}
	base := strings.TrimRight(client.BaseURL, "/")
	httpc := &http.Client{Timeout: settings.Timeout()}

	f.logger.Info("fetching client data", "client", client.Name, "days", settings.Days)

	var (
		checkouts, transactions []models.Record
		checkoutErr, txnErr     error
		wg                      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		checkouts, checkoutErr = fetchPaginated(ctx, httpc, base+checkoutEndpoint, client.APIKey, settings.Days, settings.FetchPageSize)
	}()
	go func() {
		defer wg.Done()
		transactions, txnErr = fetchPaginated(ctx, httpc, base+transactionsEndpoint, client.APIKey, settings.Days, settings.FetchPageSize)
	}()
	wg.Wait()

	err := checkoutErr
	if err == nil {
		err = txnErr
	}
	if err != nil {
		result.Error = err.Error()
		f.logger.Error("fetch failed", "client", client.Name, "error", err)
		return result
	}

	result.Checkouts = checkouts
	result.Transactions = transactions
	result.CheckoutCount = len(checkouts)
	result.TransactionCount = len(transactions)

	f.logger.Info("fetched client data",
		"client", client.Name,
		"checkouts", result.CheckoutCount,
		"transactions", result.TransactionCount,
	)
	return result
}

// FetchAll fetches every enabled client concurrently. Output order matches
// input order regardless of completion order, a slow or failing client
// never delays or fails any other, and the call returns only once every
// client has finished.
func (f *Fetcher) FetchAll(ctx context.Context, clients []models.ClientConfig, settings models.RunSettings) []models.ClientFetchResult {
	f.logger.Info("starting fetch", "clients", len(clients))

	results := make([]models.ClientFetchResult, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client models.ClientConfig) {
			defer wg.Done()
			results[i] = f.FetchClient(ctx, client, settings)
		}(i, client)
	}
	wg.Wait()

	success := 0
	for _, r := range results {
		if r.Error == "" {
			success++
		}
	}
	f.logger.Info("fetch complete", "successful", success, "total", len(results))

	return results
}
