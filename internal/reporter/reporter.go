// Package reporter turns match results into durable report artifacts: one
// CSV of unmatched checkouts per client, a combined JSON document across
// clients, and optionally an archived copy in object storage.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/donorsync/reconcile-api/internal/models"
)

// csvHeader is the fixed column order of the per-client unmatched report.
var csvHeader = []string{
	"Client", "Checkout ID", "Invoice ID", "Order No",
	"Payment Intent", "Payment Status", "Amount", "Currency",
	"Donor Email", "Donor Name", "Created At",
}

// OverallSummary aggregates counts across every client in a run.
type OverallSummary struct {
	TotalMatched      int `json:"total_matched"`
	TotalUnmatched    int `json:"total_unmatched"`
	ClientsWithErrors int `json:"clients_with_errors"`
}

// ClientSummary is the per-client summary block of the combined report.
type ClientSummary struct {
	TotalCheckouts    int     `json:"total_checkouts"`
	TotalTransactions int     `json:"total_transactions"`
	Matched           int     `json:"matched"`
	Unmatched         int     `json:"unmatched"`
	MatchRate         float64 `json:"match_rate"`
}

// ClientReport is one client's entry in the combined report.
type ClientReport struct {
	Client           string                   `json:"client"`
	Summary          ClientSummary            `json:"summary"`
	UnmatchedRecords []models.UnmatchedRecord `json:"unmatched_records"`
}

// CombinedReport is the combined JSON document for one run.
type CombinedReport struct {
	GeneratedAt    string         `json:"generated_at"`
	TotalClients   int            `json:"total_clients"`
	OverallSummary OverallSummary `json:"overall_summary"`
	Clients        []ClientReport `json:"clients"`
}

// Artifacts describes where one run's report files landed.
type Artifacts struct {
	Dir              string
	CombinedJSONPath string
	CSVPaths         []string
	Combined         *CombinedReport
}

// Reporter runs the report stage of the pipeline.
type Reporter struct {
	baseDir string
	logger  *slog.Logger
}

// New creates a reporter writing under baseDir.
func New(baseDir string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{baseDir: baseDir, logger: logger.With("component", "reporter")}
}

// Generate writes one CSV per client and the combined JSON document into a
// fresh run directory keyed by startedAt. Per-client artifacts are written
// in parallel, bounded by maxWorkers; the combined document is assembled
// only after every per-client artifact is complete.
func (r *Reporter) Generate(results []models.MatchResult, startedAt time.Time, maxWorkers int) (*Artifacts, error) {
	runDir, err := r.createRunDir(startedAt)
	if err != nil {
		return nil, err
	}

	if maxWorkers < 1 {
		maxWorkers = 1
	}

	csvPaths := make([]string, len(results))
	reports := make([]ClientReport, len(results))
	errs := make([]error, len(results))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				csvPaths[i], errs[i] = r.writeClientCSV(runDir, &results[i])
				reports[i] = buildClientReport(&results[i])
			}
		}()
	}
	for i := range results {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	combined := &CombinedReport{
		GeneratedAt:  time.Now().Format(time.RFC3339),
		TotalClients: len(results),
		Clients:      reports,
	}
	for _, res := range results {
		combined.OverallSummary.TotalMatched += res.MatchedCount
		combined.OverallSummary.TotalUnmatched += res.UnmatchedCount
		if res.Error != "" {
			combined.OverallSummary.ClientsWithErrors++
		}
	}

	jsonPath := filepath.Join(runDir, "combined_report.json")
	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode combined report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write combined report: %w", err)
	}

	r.logger.Info("reports saved", "dir", runDir, "clients", len(results))

	return &Artifacts{
		Dir:              runDir,
		CombinedJSONPath: jsonPath,
		CSVPaths:         csvPaths,
		Combined:         combined,
	}, nil
}

// createRunDir makes a new directory keyed by the run's start timestamp.
// Runs never overwrite each other's artifacts: if two runs start within
// the same second, the later one gets a numeric suffix.
func (r *Reporter) createRunDir(startedAt time.Time) (string, error) {
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports dir: %w", err)
	}

	key := startedAt.Format("20060102_150405")
	for attempt := 0; ; attempt++ {
		name := key
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d", key, attempt+1)
		}
		dir := filepath.Join(r.baseDir, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create run dir: %w", err)
		}
	}
}

// writeClientCSV writes the unmatched checkouts of one client. A client
// with a fetch error still gets a header-only file, so the artifact set
// always enumerates every configured client.
func (r *Reporter) writeClientCSV(runDir string, res *models.MatchResult) (string, error) {
	safeName := strings.ToLower(strings.ReplaceAll(res.ClientName, " ", "_"))
	path := filepath.Join(runDir, safeName+"_unmatched.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV for %s: %w", res.ClientName, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write CSV header for %s: %w", res.ClientName, err)
	}

	for _, c := range res.Unmatched {
		row := []string{
			res.ClientName,
			c.GetString("id"),
			c.GetString("invoiceid"),
			c.GetString("order_no"),
			c.GetString(models.FieldPaymentIntent),
			c.GetString("payment_status"),
			c.GetString("total_amount"),
			c.GetString("currency"),
			c.GetString("donor_email"),
			c.GetString("donor_name"),
			c.GetString("created_at"),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row for %s: %w", res.ClientName, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV for %s: %w", res.ClientName, err)
	}
	return path, nil
}

func buildClientReport(res *models.MatchResult) ClientReport {
	report := ClientReport{
		Client: res.ClientName,
		Summary: ClientSummary{
			TotalCheckouts:    res.TotalCheckouts,
			TotalTransactions: res.TotalTransactions,
			Matched:           res.MatchedCount,
			Unmatched:         res.UnmatchedCount,
			MatchRate:         roundRate(res.MatchRate),
		},
		UnmatchedRecords: make([]models.UnmatchedRecord, 0, len(res.Unmatched)),
	}
	for _, c := range res.Unmatched {
		report.UnmatchedRecords = append(report.UnmatchedRecords, models.ProjectUnmatched(c))
	}
	return report
}

func roundRate(rate float64) float64 {
	return math.Round(rate*100) / 100
}
