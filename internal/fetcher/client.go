// Package fetcher pulls checkout journey and transaction data from client
// APIs. Each client exposes two paginated endpoints behind an API key; the
// fetch stage is I/O-bound and fans out one goroutine per client with two
// concurrent stream fetches inside each.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/donorsync/reconcile-api/internal/models"
)

const (
	checkoutEndpoint     = "/get_checkout_journey.php"
	transactionsEndpoint = "/get_transactions.php"

	apiKeyHeader = "X-Api-Key"
)

// envelope is the response wrapper every client endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    []models.Record `json:"data"`
	HasMore bool            `json:"has_more"`
	Error   string          `json:"error"`
}

// fetchPaginated retrieves the full collection behind one endpoint. Pages
// are requested strictly sequentially (1-based) and concatenated in page
// order; fetching stops when has_more is false. Any transport failure,
// non-2xx status or failed envelope aborts the whole fetch - the caller
// sees an error, never a partial collection.
func fetchPaginated(ctx context.Context, httpc *http.Client, url, apiKey string, days, pageSize int) ([]models.Record, error) {
	var all []models.Record

	for page := 1; ; page++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
		}

		q := req.URL.Query()
		q.Set("days", strconv.Itoa(days))
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageSize))
		req.URL.RawQuery = q.Encode()
		req.Header.Set(apiKeyHeader, apiKey)

		resp, err := httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", url, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
		}

		var body envelope
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("invalid response from %s: %w", url, err)
		}

		if !body.Success {
			msg := body.Error
			if msg == "" {
				msg = "unknown"
			}
			return nil, fmt.Errorf("API error: %s", msg)
		}

		all = append(all, body.Data...)

		if !body.HasMore {
			break
		}
	}

	return all, nil
}
