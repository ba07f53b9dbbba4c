package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	symbols = []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "US30"}
	sides   = []string{"buy", "sell"}
)

// simulationConfig holds the command line settings
type simulationConfig struct {
	serverAddress  string
	apiKey         string
	apiSecret      string
	bridges        int
	batches        int
	tradesPerBatch int
	redeliverRatio float64
	uploadRows     int
}

var simCfg simulationConfig

var rootCmd = &cobra.Command{
	Use:   "simulation",
	Short: "Play MetaTrader bridges and a user against a running journal API",
	Long: `simulation obtains a session token, creates a MetaTrader connection, then has
several bridges push webhook batches concurrently. A share of batches are
delivered twice to exercise deduplication. It finishes by uploading a
broker export and prints per-route latency statistics.`,
	RunE: runSimulation,
}

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	flags := rootCmd.Flags()
	flags.StringVar(&simCfg.serverAddress, "server", "http://localhost:8080", "Base URL of the journal API")
	flags.StringVar(&simCfg.apiKey, "api-key", os.Getenv("DEV_API_KEY"), "API key registered with the server")
	flags.StringVar(&simCfg.apiSecret, "api-secret", os.Getenv("DEV_API_SECRET"), "API secret registered with the server")
	flags.IntVar(&simCfg.bridges, "bridges", 5, "Number of concurrent bridges")
	flags.IntVar(&simCfg.batches, "batches", 10, "Webhook batches per bridge")
	flags.IntVar(&simCfg.tradesPerBatch, "trades", 20, "Trades per webhook batch")
	flags.Float64Var(&simCfg.redeliverRatio, "redeliver", 0.2, "Share of batches sent twice")
	flags.IntVar(&simCfg.uploadRows, "upload-rows", 50, "Rows in the uploaded export file")
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the journal API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
	order     []string
}

// importCounts is the server's answer to a webhook batch or upload
type importCounts struct {
	Success    bool `json:"success"`
	TotalFound int  `json:"total_found"`
	Imported   int  `json:"imported"`
	Skipped    int  `json:"skipped"`
	Errors     int  `json:"errors"`
}

func newSimulationClient(cfg simulationConfig) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: strings.TrimRight(cfg.serverAddress, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":       {name: "Authentication"},
			"connection": {name: "Create Connection"},
			"webhook":    {name: "Webhook Batch"},
			"upload":     {name: "File Upload"},
			"history":    {name: "Import History"},
		},
		order: []string{"auth", "connection", "webhook", "upload", "history"},
	}

	token, err := sc.authenticate(cfg.apiKey, cfg.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// do sends req, times it against route and returns the body of a 2xx response
func (sc *simulationClient) do(route string, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].addDuration(time.Since(start), true)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	failed := err != nil || resp.StatusCode >= 300
	sc.stats[route].addDuration(time.Since(start), failed)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Int("status", resp.StatusCode).Str("response", string(body)).Msg("response")

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, string(body))
	}
	return body, nil
}

func (sc *simulationClient) postJSON(route, path string, payload interface{}, withSession bool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if withSession {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	return sc.do(route, req)
}

// authenticate exchanges API credentials for a session token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	body, err := sc.postJSON("auth", "/api/v1/auth/token", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}, false)
	if err != nil {
		return "", err
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// createConnection registers a MetaTrader connection and returns its code
func (sc *simulationClient) createConnection() (string, error) {
	body, err := sc.postJSON("connection", "/api/v1/connections", map[string]string{
		"connection_type": "metatrader",
		"platform":        "mt5",
		"broker_name":     "SimBroker",
	}, true)
	if err != nil {
		return "", err
	}

	var result struct {
		ConnectionCode string `json:"connection_code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.ConnectionCode == "" {
		return "", fmt.Errorf("no connection code in response: %s", string(body))
	}
	return result.ConnectionCode, nil
}

func (sc *simulationClient) pushBatch(payload map[string]interface{}) (*importCounts, error) {
	body, err := sc.postJSON("webhook", "/api/v1/webhooks/mt", payload, false)
	if err != nil {
		return nil, err
	}
	var counts importCounts
	if err := json.Unmarshal(body, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return &counts, nil
}

func (sc *simulationClient) uploadExport(filename string, content []byte) (*importCounts, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.WriteField("broker", "SimBroker"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/imports/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	body, err := sc.do("upload", req)
	if err != nil {
		return nil, err
	}
	var counts importCounts
	if err := json.Unmarshal(body, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return &counts, nil
}

func (sc *simulationClient) importHistory() (int, error) {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/api/v1/imports?limit=100", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	body, err := sc.do("history", req)
	if err != nil {
		return 0, err
	}
	var result struct {
		Imports []json.RawMessage `json:"imports"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	return len(result.Imports), nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomTrade builds one closed MetaTrader trade with a globally unique ticket
func randomTrade(ticket int64) map[string]interface{} {
	side := sides[rand.Intn(len(sides))]
	openPrice := 1 + rand.Float64()
	move := (rand.Float64() - 0.5) / 100
	lots := float64(rand.Intn(100)+1) / 100
	profit := math.Round(move*lots*100000*100) / 100
	if side == "sell" {
		profit = -profit
	}
	opened := time.Now().Add(-time.Duration(rand.Intn(30*24)) * time.Hour).UTC()
	closed := opened.Add(time.Duration(rand.Intn(600)+1) * time.Minute)

	return map[string]interface{}{
		"ticket":      fmt.Sprintf("%d", ticket),
		"symbol":      symbols[rand.Intn(len(symbols))],
		"type":        side,
		"open_price":  math.Round(openPrice*100000) / 100000,
		"close_price": math.Round((openPrice+move)*100000) / 100000,
		"lots":        lots,
		"profit":      profit,
		"commission":  -math.Round(lots*7*100) / 100,
		"swap":        0,
		"open_time":   opened.Format("2006.01.02 15:04:05"),
		"close_time":  closed.Format("2006.01.02 15:04:05"),
	}
}

// exportFile renders rows as an MT4-style tab separated statement
func exportFile(firstTicket int64, rows int) []byte {
	var b strings.Builder
	b.WriteString("Ticket\tOpen Time\tType\tSize\tItem\tPrice\tClose Time\tClose\tCommission\tSwap\tProfit\n")
	for i := 0; i < rows; i++ {
		t := randomTrade(firstTicket + int64(i))
		fmt.Fprintf(&b, "%s\t%s\t%s\t%v\t%s\t%v\t%s\t%v\t%v\t%v\t%v\n",
			t["ticket"], t["open_time"], t["type"], t["lots"], t["symbol"],
			t["open_price"], t["close_time"], t["close_price"], t["commission"], t["swap"], t["profit"])
	}
	// A trailing summary line like the ones brokers append; it carries no ticket or symbol
	b.WriteString("\t\t\t\t\t\t\t\t\t\tTotal\n")
	return []byte(b.String())
}

// runBridge pushes batches for one bridge, re-sending some of them
func runBridge(ctx context.Context, bridgeID int, sc *simulationClient, code string, nextTicket *atomic.Int64, cfg simulationConfig, totals *importTotals) error {
	for batch := 0; batch < cfg.batches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		trades := make([]map[string]interface{}, 0, cfg.tradesPerBatch)
		for i := 0; i < cfg.tradesPerBatch; i++ {
			trades = append(trades, randomTrade(nextTicket.Add(1)))
		}
		payload := map[string]interface{}{
			"connection_code": code,
			"account_number":  fmt.Sprintf("SIM-%03d", bridgeID),
			"platform":        "mt5",
			"trades":          trades,
		}

		deliveries := 1
		if rand.Float64() < cfg.redeliverRatio {
			deliveries = 2
		}
		for d := 0; d < deliveries; d++ {
			counts, err := sc.pushBatch(payload)
			if err != nil {
				log.Error().Err(err).Int("bridge_id", bridgeID).Int("batch", batch).Msg("Webhook batch failed")
				continue
			}
			totals.add(counts)
			log.Info().
				Int("bridge_id", bridgeID).
				Int("batch", batch).
				Bool("redelivery", d > 0).
				Int("imported", counts.Imported).
				Int("skipped", counts.Skipped).
				Int("errors", counts.Errors).
				Msg("Webhook batch delivered")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(200)) * time.Millisecond):
		}
	}
	return nil
}

type importTotals struct {
	mu       sync.Mutex
	imported int
	skipped  int
	errors   int
}

func (t *importTotals) add(c *importCounts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.imported += c.Imported
	t.skipped += c.Skipped
	t.errors += c.Errors
}

// runSimulation drives the bridges and the upload, then reports
func runSimulation(cmd *cobra.Command, args []string) error {
	if simCfg.bridges <= 0 || simCfg.batches <= 0 || simCfg.tradesPerBatch <= 0 {
		return fmt.Errorf("bridges, batches and trades must be positive")
	}

	sc, err := newSimulationClient(simCfg)
	if err != nil {
		return err
	}

	code, err := sc.createConnection()
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	log.Info().Str("connection_code", code).Msg("Connection created")

	// Tickets start from the clock so repeated runs against one database do not collide
	var nextTicket atomic.Int64
	nextTicket.Store(time.Now().Unix() * 1000)

	var totals importTotals
	started := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	for i := 0; i < simCfg.bridges; i++ {
		bridgeID := i
		g.Go(func() error {
			return runBridge(ctx, bridgeID, sc, code, &nextTicket, simCfg, &totals)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("webhook phase interrupted: %w", err)
	}

	expected := simCfg.bridges * simCfg.batches * simCfg.tradesPerBatch
	log.Info().
		Int("expected_unique", expected).
		Int("imported", totals.imported).
		Int("skipped", totals.skipped).
		Int("errors", totals.errors).
		Dur("elapsed", time.Since(started)).
		Msg("Webhook phase complete")
	if totals.imported > expected {
		log.Error().Msg("More trades imported than were generated: deduplication failed")
	}

	counts, err := sc.uploadExport("statement.txt", exportFile(nextTicket.Add(int64(simCfg.uploadRows))+1, simCfg.uploadRows))
	if err != nil {
		log.Error().Err(err).Msg("Upload failed")
	} else {
		log.Info().
			Int("total_found", counts.TotalFound).
			Int("imported", counts.Imported).
			Int("skipped", counts.Skipped).
			Int("errors", counts.Errors).
			Msg("Upload complete")
	}

	if runs, err := sc.importHistory(); err != nil {
		log.Error().Err(err).Msg("Failed to load import history")
	} else {
		log.Info().Int("runs", runs).Msg("Import history loaded")
	}

	sc.printPerformanceStats()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
