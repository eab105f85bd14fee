// Benchmark tool for replaying labeled application data against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applications.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled application data (with expected approve/deny outcomes)
//   2. Submits each application to Kestrel for screening
//   3. Compares Kestrel's action (APPROVE vs REJECT/REQUEST_INFO) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ApplicationRow represents a row from the labeled dataset
type ApplicationRow struct {
	ProgramType     string
	LegalName       string
	EIN             string
	BusinessType    string
	BusinessAge     *float64
	AnnualRevenue   *float64
	CreditScore     *float64
	EmployeeCount   *float64
	State           string
	YearsAtAddress  *float64
	RequestedAmount float64
	LoanPurpose     string
	ShouldApprove   bool
}

// SubmitRequest is the Kestrel API request format
type SubmitRequest struct {
	ProgramType     string           `json:"programType"`
	Applicant       ApplicantProfile `json:"applicant"`
	RequestedAmount float64          `json:"requestedAmount"`
	LoanPurpose     string           `json:"loanPurpose,omitempty"`
}

type ApplicantProfile struct {
	LegalName      string   `json:"legalName"`
	EIN            string   `json:"ein"`
	BusinessType   string   `json:"businessType,omitempty"`
	BusinessAge    *float64 `json:"businessAge,omitempty"`
	AnnualRevenue  *float64 `json:"annualRevenue,omitempty"`
	CreditScore    *float64 `json:"creditScore,omitempty"`
	EmployeeCount  *float64 `json:"employeeCount,omitempty"`
	State          string   `json:"state,omitempty"`
	YearsAtAddress *float64 `json:"yearsAtAddress,omitempty"`
}

// SubmitResponse is the Kestrel API response format
type SubmitResponse struct {
	DecisionID      string   `json:"decisionId"`
	Action          string   `json:"action"` // "APPROVE", "REJECT", or "REQUEST_INFO"
	Score           float64  `json:"score"`
	ConfidenceScore float64  `json:"confidenceScore"`
	RiskScore       int      `json:"riskScore"`
	Reasoning       []string `json:"reasoning"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Approvable approved
	FalsePositives int64 // Non-approvable approved (bad loans!)
	TrueNegatives  int64 // Non-approvable held back
	FalseNegatives int64 // Approvable held back

	TotalProcessed   int64
	TotalApprovable  int64
	TotalDeniable    int64
	TotalRequestInfo int64
	TotalErrors      int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applications.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Application Screening Replay       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading application data from %s...\n", *csvPath)
	applications, err := readApplicationsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d applications\n", len(applications))

	// Count approvable vs deniable
	approvable := 0
	for _, row := range applications {
		if row.ShouldApprove {
			approvable++
		}
	}
	fmt.Printf("  - Approvable: %d (%.2f%%)\n", approvable, 100*float64(approvable)/float64(len(applications)))
	fmt.Printf("  - Deniable:   %d (%.2f%%)\n", len(applications)-approvable, 100*float64(len(applications)-approvable)/float64(len(applications)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(applications, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readApplicationsCSV(path string, limit int) ([]ApplicationRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	// Empty cells stay nil so incomplete profiles replay as incomplete
	optional := func(record []string, name string) *float64 {
		raw := field(record, name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return &v
	}

	var applications []ApplicationRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(field(record, "requested_amount"), 64)

		row := ApplicationRow{
			ProgramType:     field(record, "program_type"),
			LegalName:       field(record, "legal_name"),
			EIN:             field(record, "ein"),
			BusinessType:    field(record, "business_type"),
			BusinessAge:     optional(record, "business_age"),
			AnnualRevenue:   optional(record, "annual_revenue"),
			CreditScore:     optional(record, "credit_score"),
			EmployeeCount:   optional(record, "employee_count"),
			State:           field(record, "state"),
			YearsAtAddress:  optional(record, "years_at_address"),
			RequestedAmount: amount,
			LoanPurpose:     field(record, "loan_purpose"),
			ShouldApprove:   field(record, "should_approve") == "1",
		}

		applications = append(applications, row)

		if limit > 0 && len(applications) >= limit {
			break
		}
	}

	return applications, nil
}

func runBenchmark(applications []ApplicationRow, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan ApplicationRow, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := submitApplication(client, baseURL, row)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.LegalName, err)
					}
					continue
				}

				// Track actual labels
				if row.ShouldApprove {
					atomic.AddInt64(&metrics.TotalApprovable, 1)
				} else {
					atomic.AddInt64(&metrics.TotalDeniable, 1)
				}
				if result.Action == "REQUEST_INFO" {
					atomic.AddInt64(&metrics.TotalRequestInfo, 1)
				}

				// Calculate confusion matrix
				predicted := result.Action == "APPROVE"
				actual := row.ShouldApprove

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					name := row.LegalName
					if len(name) > 20 {
						name = name[:20]
					}
					fmt.Printf("%s %-20s | Program: %-10s | Amount: $%10.2f | Expected: %-5v | Kestrel: %-12s (score %.1f, risk %d)\n",
						status,
						name,
						row.ProgramType,
						row.RequestedAmount,
						row.ShouldApprove,
						result.Action,
						result.Score,
						result.RiskScore,
					)
				}
			}
		}()
	}

	// Send work
	for _, row := range applications {
		work <- row
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func submitApplication(client *http.Client, baseURL string, row ApplicationRow) (*SubmitResponse, error) {
	// Build request matching Kestrel's expected format
	req := SubmitRequest{
		ProgramType: row.ProgramType,
		Applicant: ApplicantProfile{
			LegalName:      row.LegalName,
			EIN:            row.EIN,
			BusinessType:   row.BusinessType,
			BusinessAge:    row.BusinessAge,
			AnnualRevenue:  row.AnnualRevenue,
			CreditScore:    row.CreditScore,
			EmployeeCount:  row.EmployeeCount,
			State:          row.State,
			YearsAtAddress: row.YearsAtAddress,
		},
		RequestedAmount: row.RequestedAmount,
		LoanPurpose:     row.LoanPurpose,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/applications", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Approvable:       %d\n", m.TotalApprovable)
	fmt.Printf("   Deniable:         %d\n", m.TotalDeniable)
	fmt.Printf("   Info Requested:   %d\n", m.TotalRequestInfo)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 APPROVE     HOLD BACK")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           D  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 SCREENING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of approvals, how many deserved it)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of deserving applications, how many got approved)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Outcome analysis
	fmt.Printf("\n🔍 OUTCOME ANALYSIS\n")
	if m.TotalDeniable > 0 {
		badLoanRate := float64(m.FalsePositives) / float64(m.TotalDeniable) * 100
		fmt.Printf("   Bad Approvals:     %d / %d (%.2f%%) ⚠️\n", m.FalsePositives, m.TotalDeniable, badLoanRate)
	}
	if m.TotalApprovable > 0 {
		deniedRate := float64(m.FalseNegatives) / float64(m.TotalApprovable) * 100
		fmt.Printf("   Missed Approvals:  %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalApprovable, deniedRate)
	}
	if m.TotalProcessed > 0 {
		reviewRate := float64(m.TotalRequestInfo) / float64(m.TotalProcessed) * 100
		fmt.Printf("   Info Request Rate: %.2f%%\n", reviewRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		aps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f apps/sec\n", aps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if precision >= 0.9 {
		fmt.Println("   ✅ Excellent precision - approvals are trustworthy")
	} else if precision >= 0.7 {
		fmt.Println("   ⚠️  Good precision - but some weak applications slip through")
	} else {
		fmt.Println("   ❌ Low precision - too many weak applications approved!")
	}

	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - deserving applicants get through")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some deserving applicants are held back")
	} else {
		fmt.Println("   ❌ Low recall - deserving applicants are being turned away")
	}

	fmt.Println()
}
