// Package main implements the patternctl CLI for manual operations against
// the patternd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the patternd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternctl",
	Short: "CLI for patternd HTTP server operations",
	Long: `patternctl is a command-line interface for interacting with the patternd
HTTP server. It provides commands for checking health, inspecting patterns,
submitting observations, and tuning the orchestrator.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "patternd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(frequencyCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check patternd server health",
	Long: `Check the health status of the patternd HTTP server.

Examples:
  # Check health
  patternctl health

  # Check health on a different server
  patternctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator and detection status",
	Long: `Show the orchestrator's worker health, metrics, and effective
frequencies alongside the pattern store's distribution.

Examples:
  patternctl status`,
	RunE: runStatus,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List recognized patterns",
	Long: `List recognized patterns, optionally filtered by category or stage.

Examples:
  patternctl patterns
  patternctl patterns --category wisdom
  patternctl patterns --stage mature`,
	RunE: runPatterns,
}

var observeCmd = &cobra.Command{
	Use:   "observe [file]",
	Short: "Submit an observation payload from a file or stdin",
	Long: `Submit a JSON observation payload to the detector.

Examples:
  # Submit a payload file under the wisdom category
  patternctl observe --category wisdom payload.json

  # Submit from stdin
  echo '{"clarity": 0.9}' | patternctl observe --category wisdom -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runObserve,
}

var modeCmd = &cobra.Command{
	Use:   "mode <continuous|deep|broad>",
	Short: "Switch the orchestrator processing mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runMode,
}

var frequencyCmd = &cobra.Command{
	Use:   "frequency <worker> <hz>",
	Short: "Change one worker's target frequency",
	Long: `Change one worker's configured target frequency in Hz (1-300).

Examples:
  patternctl frequency detection 120`,
	Args: cobra.ExactArgs(2),
	RunE: runFrequency,
}

var (
	observeCategory string
	observeSources  []string
	patternCategory string
	patternStage    string
)

func init() {
	observeCmd.Flags().StringVar(&observeCategory, "category", "", "observation category (required)")
	observeCmd.Flags().StringSliceVar(&observeSources, "source", nil, "observation source tags")
	_ = observeCmd.MarkFlagRequired("category")

	patternsCmd.Flags().StringVar(&patternCategory, "category", "", "filter by category")
	patternsCmd.Flags().StringVar(&patternStage, "stage", "", "filter by lifecycle stage")
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

// ObservationRequest matches internal/http/server.go ObservationRequest
type ObservationRequest struct {
	Payload  map[string]any `json:"payload"`
	Category string         `json:"category"`
	Sources  []string       `json:"sources"`
}

// ObservationResponse matches internal/http/server.go ObservationResponse
type ObservationResponse struct {
	PatternID string `json:"pattern_id"`
	Created   bool   `json:"created"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Orchestrator Active: %t\n", healthResp.Active)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := getJSON("/api/v1/status")
	if err != nil {
		return err
	}

	var status struct {
		Orchestrator struct {
			Active       bool   `json:"active"`
			Mode         string `json:"mode"`
			Realignments int64  `json:"realignments"`
			Workers      map[string]struct {
				TargetHz    float64 `json:"target_hz"`
				EffectiveHz float64 `json:"effective_hz"`
				Health      struct {
					HealthScore float64 `json:"health_score"`
				} `json:"health"`
				Metrics struct {
					CyclesCompleted   int64   `json:"cycles_completed"`
					ErrorsEncountered int64   `json:"errors_encountered"`
					EfficiencyScore   float64 `json:"efficiency_score"`
				} `json:"metrics"`
			} `json:"workers"`
		} `json:"orchestrator"`
		Detection struct {
			TotalPatterns         int              `json:"total_patterns"`
			LifecycleDistribution map[string]int   `json:"lifecycle_distribution"`
			CorrelationCount      int              `json:"correlation_count"`
		} `json:"detection"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Mode: %s  Active: %t  Realignments: %d\n",
		status.Orchestrator.Mode, status.Orchestrator.Active, status.Orchestrator.Realignments)
	fmt.Printf("Patterns: %d  Correlations: %d\n",
		status.Detection.TotalPatterns, status.Detection.CorrelationCount)

	names := make([]string, 0, len(status.Orchestrator.Workers))
	for name := range status.Orchestrator.Workers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%-14s %10s %10s %8s %10s %8s %8s\n",
		"WORKER", "TARGET_HZ", "EFFECTIVE", "HEALTH", "CYCLES", "ERRORS", "EFF")
	for _, name := range names {
		w := status.Orchestrator.Workers[name]
		fmt.Printf("%-14s %10.1f %10.2f %8.2f %10d %8d %8.2f\n",
			name, w.TargetHz, w.EffectiveHz, w.Health.HealthScore,
			w.Metrics.CyclesCompleted, w.Metrics.ErrorsEncountered, w.Metrics.EfficiencyScore)
	}
	return nil
}

func runPatterns(cmd *cobra.Command, args []string) error {
	path := "/api/v1/patterns"
	sep := "?"
	if patternCategory != "" {
		path += sep + "category=" + patternCategory
		sep = "&"
	}
	if patternStage != "" {
		path += sep + "stage=" + patternStage
	}

	body, err := getJSON(path)
	if err != nil {
		return err
	}

	var listResp struct {
		Count    int `json:"count"`
		Patterns []struct {
			ID         string  `json:"id"`
			Category   string  `json:"category"`
			Name       string  `json:"name"`
			Stage      string  `json:"stage"`
			Frequency  int     `json:"frequency"`
			Confidence float64 `json:"confidence"`
		} `json:"patterns"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("%-38s %-11s %-11s %5s %6s  %s\n", "ID", "CATEGORY", "STAGE", "FREQ", "CONF", "NAME")
	for _, p := range listResp.Patterns {
		fmt.Printf("%-38s %-11s %-11s %5d %6.2f  %s\n",
			p.ID, p.Category, p.Stage, p.Frequency, p.Confidence, p.Name)
	}
	fmt.Fprintf(os.Stderr, "\n%d pattern(s)\n", listResp.Count)
	return nil
}

func runObserve(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	reqJSON, err := json.Marshal(ObservationRequest{
		Payload:  payload,
		Category: observeCategory,
		Sources:  observeSources,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := postJSON("/api/v1/observations", reqJSON)
	if err != nil {
		return err
	}

	var obsResp ObservationResponse
	if err := json.Unmarshal(body, &obsResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if obsResp.PatternID == "" {
		fmt.Println("Observation below confidence threshold, no pattern recorded")
		return nil
	}
	if obsResp.Created {
		fmt.Printf("Created pattern %s\n", obsResp.PatternID)
	} else {
		fmt.Printf("Merged into pattern %s\n", obsResp.PatternID)
	}
	return nil
}

func runMode(cmd *cobra.Command, args []string) error {
	reqJSON, err := json.Marshal(map[string]string{"mode": args[0]})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := putJSON("/api/v1/mode", reqJSON)
	if err != nil {
		return err
	}

	var modeResp struct {
		Mode        string             `json:"mode"`
		Frequencies map[string]float64 `json:"frequencies"`
	}
	if err := json.Unmarshal(body, &modeResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Mode: %s\n", modeResp.Mode)
	names := make([]string, 0, len(modeResp.Frequencies))
	for name := range modeResp.Frequencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %.2f Hz\n", name, modeResp.Frequencies[name])
	}
	return nil
}

func runFrequency(cmd *cobra.Command, args []string) error {
	hz, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid frequency %q: %w", args[1], err)
	}

	reqJSON, err := json.Marshal(map[string]float64{"target_hz": hz})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := putJSON("/api/v1/workers/"+args[0]+"/frequency", reqJSON); err != nil {
		return err
	}

	fmt.Printf("Worker %s target frequency set to %.2f Hz\n", args[0], hz)
	return nil
}

func getJSON(path string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s%s: %w", serverURL, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func postJSON(path string, body []byte) ([]byte, error) {
	return doJSON(http.MethodPost, path, body)
}

func putJSON(path string, body []byte) ([]byte, error) {
	return doJSON(http.MethodPut, path, body)
}

func doJSON(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s%s: %w", serverURL, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
