// Benchmark tool for testing Avia against the labelled claims dataset.
//
// Usage:
//
//	go run ./cmd/benchmark -csv ./data/insurance_claims.csv -url http://localhost:8080
//
// This tool:
//  1. Reads the claims CSV (fraud_reported is the label)
//  2. Logs in as a demo investigator
//  3. Sends each claim record to POST /score
//  4. Compares the High tier with the fraud label
//  5. Prints precision, recall, F1-score and a confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/seed"
)

// ScoreResponse is the subset of the POST /score response the benchmark reads.
type ScoreResponse struct {
	OverallRisk float64          `json:"overallRisk"`
	RiskLevel   domain.RiskLevel `json:"riskLevel"`
	Mode        string           `json:"mode"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud scored High
	FalsePositives int64 // Legitimate claim scored High
	TrueNegatives  int64 // Legitimate claim scored below High
	FalseNegatives int64 // Fraud scored below High

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
	DegradedResults  int64
}

type labelled struct {
	record domain.ClaimRecord
	fraud  bool
}

func main() {
	csvPath := flag.String("csv", "./data/insurance_claims.csv", "Path to the claims CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Avia base URL")
	username := flag.String("user", "jsmith", "Investigator username")
	password := flag.String("password", seed.DefaultPassword, "Investigator password")
	limit := flag.Int("limit", 0, "Maximum claims to score (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	fmt.Println("AVIA BENCHMARK - Claims Fraud Scoring")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Avia URL:    %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Avia not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Avia is running:")
		fmt.Println("  go run ./cmd/avia serve")
		os.Exit(1)
	}
	fmt.Println("Avia is healthy")

	token, err := login(*baseURL, *username, *password)
	if err != nil {
		fmt.Printf("ERROR: login failed: %v\n", err)
		os.Exit(1)
	}

	claims, err := readClaims(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(claims) == 0 {
		fmt.Println("ERROR: no claims in CSV")
		os.Exit(1)
	}

	fraudCount := 0
	for _, c := range claims {
		if c.fraud {
			fraudCount++
		}
	}
	fmt.Printf("Loaded %d claims\n", len(claims))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, token, *workers, *verbose)
	duration := time.Since(startTime)

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

func login(baseURL, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// readClaims loads the CSV and strips the label before scoring.
func readClaims(path string, limit int) ([]labelled, error) {
	rows, err := seed.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	claims := make([]labelled, 0, len(rows))
	for _, row := range rows {
		fraud := strings.EqualFold(row.TextOr("fraud_reported", ""), "Y")
		delete(row, "fraud_reported")
		claims = append(claims, labelled{record: row, fraud: fraud})
	}
	return claims, nil
}

func runBenchmark(claims []labelled, baseURL, token string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan labelled, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := scoreClaim(client, baseURL, token, c.record)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.record.TextOr("policy_number", "?"), err)
					}
					continue
				}

				if c.fraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}
				if result.Mode == "degraded" {
					atomic.AddInt64(&metrics.DegradedResults, 1)
				}

				predicted := result.RiskLevel == domain.RiskHigh
				actual := c.fraud

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "ok"
					if predicted != actual {
						status = "XX"
					}
					fmt.Printf("%s %-10s | Amount: $%10.0f | Fraud: %-5v | Avia: %-6s (%.1f)\n",
						status,
						c.record.TextOr("policy_number", "?"),
						c.record.FloatOr("total_claim_amount", 0),
						c.fraud,
						result.RiskLevel,
						result.OverallRisk,
					)
				}
			}
		}()
	}

	for _, c := range claims {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreClaim(client *http.Client, baseURL, token string, record domain.ClaimRecord) (*ScoreResponse, error) {
	body, err := json.Marshal(map[string]any{"claimData": record})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	if m.DegradedResults > 0 {
		fmt.Printf("   Degraded Scores:  %d (model artifacts not loaded)\n", m.DegradedResults)
	}

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    High      Med/Low")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

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

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of High claims, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many scored High)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", cps)
	}

	fmt.Println()
}
