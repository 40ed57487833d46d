package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/donorsync/reconcile-api/internal/models"
)

// pagedHandler serves records in fixed-size pages behind the standard
// success/data/has_more envelope, mimicking a client endpoint.
func pagedHandler(t *testing.T, total, pageSize int, prefix string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") == "" {
			t.Error("missing X-Api-Key header")
		}
		if r.URL.Query().Get("days") == "" || r.URL.Query().Get("limit") == "" {
			t.Error("missing days/limit query params")
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		start := (page - 1) * pageSize
		end := start + pageSize
		if end > total {
			end = total
		}

		var data []models.Record
		for i := start; i < end; i++ {
			data = append(data, models.Record{"id": fmt.Sprintf("%s_%d", prefix, i)})
		}

		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"data":     data,
			"has_more": end < total,
		})
	}
}

func testSettings() models.RunSettings {
	return models.RunSettings{Days: 2, MaxWorkers: 4, FetchPageSize: 10, RequestTimeout: 5}
}

func TestFetchPaginated(t *testing.T) {
	t.Run("concatenates pages in request order", func(t *testing.T) {
		srv := httptest.NewServer(pagedHandler(t, 25, 10, "ck"))
		defer srv.Close()

		got, err := fetchPaginated(context.Background(), srv.Client(), srv.URL, "key", 2, 10)
		if err != nil {
			t.Fatalf("fetchPaginated() error = %v", err)
		}
		if len(got) != 25 {
			t.Fatalf("got %d records, want 25", len(got))
		}
		for i, rec := range got {
			if want := fmt.Sprintf("ck_%d", i); rec.GetString("id") != want {
				t.Fatalf("record %d = %q, want %q (page order broken)", i, rec.GetString("id"), want)
			}
		}
	})

	t.Run("stops exactly when has_more is false", func(t *testing.T) {
		requests := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			json.NewEncoder(w).Encode(map[string]any{
				"success":  true,
				"data":     []models.Record{{"id": "only"}},
				"has_more": false,
			})
		}))
		defer srv.Close()

		got, err := fetchPaginated(context.Background(), srv.Client(), srv.URL, "key", 2, 10)
		if err != nil {
			t.Fatalf("fetchPaginated() error = %v", err)
		}
		if requests != 1 {
			t.Errorf("made %d requests, want 1", requests)
		}
		if len(got) != 1 {
			t.Errorf("got %d records, want 1", len(got))
		}
	})

	t.Run("non-2xx status aborts the fetch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()

		got, err := fetchPaginated(context.Background(), srv.Client(), srv.URL, "key", 2, 10)
		if err == nil {
			t.Fatal("expected error for HTTP 502")
		}
		if got != nil {
			t.Error("expected no partial results on failure")
		}
	})

	t.Run("failed envelope aborts even on a later page", func(t *testing.T) {
		page := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page++
			if page >= 2 {
				json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "table locked"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success":  true,
				"data":     []models.Record{{"id": "first"}},
				"has_more": true,
			})
		}))
		defer srv.Close()

		_, err := fetchPaginated(context.Background(), srv.Client(), srv.URL, "key", 2, 10)
		if err == nil {
			t.Fatal("expected error for failed envelope")
		}
	})
}

func TestFetchClient(t *testing.T) {
	t.Run("fetches both streams", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.Handle(checkoutEndpoint, pagedHandler(t, 12, 10, "ck"))
		mux.Handle(transactionsEndpoint, pagedHandler(t, 7, 10, "tx"))
		srv := httptest.NewServer(mux)
		defer srv.Close()

		f := New(nil)
		got := f.FetchClient(context.Background(), models.ClientConfig{Name: "Acme", BaseURL: srv.URL + "/", APIKey: "key"}, testSettings())

		if got.Error != "" {
			t.Fatalf("unexpected error: %s", got.Error)
		}
		if got.CheckoutCount != 12 || got.TransactionCount != 7 {
			t.Errorf("counts = %d/%d, want 12/7", got.CheckoutCount, got.TransactionCount)
		}
	})

	t.Run("failure is captured as data with empty lists", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.Handle(checkoutEndpoint, pagedHandler(t, 3, 10, "ck"))
		mux.HandleFunc(transactionsEndpoint, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		f := New(nil)
		got := f.FetchClient(context.Background(), models.ClientConfig{Name: "Acme", BaseURL: srv.URL, APIKey: "key"}, testSettings())

		if got.Error == "" {
			t.Fatal("expected captured error")
		}
		if len(got.Checkouts) != 0 || len(got.Transactions) != 0 {
			t.Error("expected empty record lists on failure")
		}
		if got.CheckoutCount != 0 || got.TransactionCount != 0 {
			t.Error("expected zero counts on failure")
		}
	})
}

func TestFetchAll(t *testing.T) {
	okMux := http.NewServeMux()
	okMux.Handle(checkoutEndpoint, pagedHandler(t, 5, 10, "ck"))
	okMux.Handle(transactionsEndpoint, pagedHandler(t, 5, 10, "tx"))

	slowOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		okMux.ServeHTTP(w, r)
	}))
	defer slowOK.Close()

	fast := httptest.NewServer(okMux)
	defer fast.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	clients := []models.ClientConfig{
		{Name: "Slow", BaseURL: slowOK.URL, APIKey: "k"},
		{Name: "Broken", BaseURL: broken.URL, APIKey: "k"},
		{Name: "Fast", BaseURL: fast.URL, APIKey: "k"},
	}

	f := New(nil)
	results := f.FetchAll(context.Background(), clients, testSettings())

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	// Output order matches input order regardless of completion order.
	for i, want := range []string{"Slow", "Broken", "Fast"} {
		if results[i].ClientName != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i].ClientName, want)
		}
	}

	// One failing client never fails the others.
	if results[0].Error != "" || results[2].Error != "" {
		t.Error("healthy clients should succeed despite the broken one")
	}
	if results[1].Error == "" {
		t.Error("broken client should carry an error")
	}
	if results[0].CheckoutCount != 5 || results[2].CheckoutCount != 5 {
		t.Error("healthy clients should have full data")
	}
}
