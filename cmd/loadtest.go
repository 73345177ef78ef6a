package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/session"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// LoadTestConfig holds configuration for load testing
type LoadTestConfig struct {
	BaseURL         string
	SlotID          uuid.UUID
	LMSCourseID     string
	NumLearners     int
	ConcurrentUsers int
	SlotCapacity    int
}

type bookingEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Reason booking.Reason `json:"reason"`
	} `json:"data"`
}

// LoadTestResult holds the results of load testing
type LoadTestResult struct {
	TotalRequests     int
	Admitted          int
	Rejected          int
	FailedReqs        int
	AvgResponseTimeMs float64
	MaxResponseTimeMs int64
	MinResponseTimeMs int64
	ThroughputRPS     float64
	RejectedByReason  map[booking.Reason]int
	ErrorsByType      map[string]int
}

// LoadTester fires concurrent bookings at one slot, one learner per request.
type LoadTester struct {
	config    LoadTestConfig
	client    *http.Client
	tokens    []string
	results   LoadTestResult
	mutex     sync.Mutex
	startTime time.Time
}

func NewLoadTester(config LoadTestConfig) *LoadTester {
	return &LoadTester{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		results: LoadTestResult{
			RejectedByReason: make(map[booking.Reason]int),
			ErrorsByType:     make(map[string]int),
		},
	}
}

// Initialize mints one learner session per simulated user.
func (lt *LoadTester) Initialize(signer *session.Signer) error {
	fmt.Println("Minting learner sessions...")

	lt.tokens = make([]string, lt.config.NumLearners)
	for i := range lt.tokens {
		actor := booking.Actor{
			UserID:      fmt.Sprintf("loadtest-%d", i+1),
			Name:        fmt.Sprintf("Load Test %d", i+1),
			Roles:       booking.RoleLearner,
			LMSCourseID: lt.config.LMSCourseID,
		}
		token, _, err := signer.Issue(actor)
		if err != nil {
			return err
		}
		lt.tokens[i] = token
	}

	fmt.Printf("Prepared %d learners for slot %s\n", len(lt.tokens), lt.config.SlotID)
	return nil
}

func (lt *LoadTester) RunLoadTest() {
	fmt.Printf("Starting load test with %d concurrent users...\n", lt.config.ConcurrentUsers)

	lt.startTime = time.Now()
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, lt.config.ConcurrentUsers)

	for i := range lt.tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			lt.book(token)
		}(lt.tokens[i])
	}

	wg.Wait()

	lt.results.ThroughputRPS = float64(lt.results.TotalRequests) / time.Since(lt.startTime).Seconds()
	lt.printResults()
}

func (lt *LoadTester) book(token string) {
	startTime := time.Now()

	body, err := json.Marshal(map[string]any{
		"slot_id": lt.config.SlotID,
		"message": "load test booking",
	})
	if err != nil {
		lt.recordError("json_marshal")
		return
	}

	req, err := http.NewRequest(http.MethodPost, lt.config.BaseURL+"/api/v1/reservations", bytes.NewReader(body))
	if err != nil {
		lt.recordError("build_request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := lt.client.Do(req)
	responseTime := time.Since(startTime)
	if err != nil {
		lt.recordError("http_request")
		return
	}
	defer resp.Body.Close()

	var env bookingEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		lt.recordError("decode_response")
		return
	}

	lt.recordResponse(resp.StatusCode, env, responseTime)
}

func (lt *LoadTester) recordResponse(statusCode int, env bookingEnvelope, responseTime time.Duration) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	lt.results.TotalRequests++
	responseTimeMs := responseTime.Milliseconds()

	if lt.results.MaxResponseTimeMs < responseTimeMs {
		lt.results.MaxResponseTimeMs = responseTimeMs
	}
	if lt.results.MinResponseTimeMs == 0 || lt.results.MinResponseTimeMs > responseTimeMs {
		lt.results.MinResponseTimeMs = responseTimeMs
	}

	currentCount := float64(lt.results.TotalRequests)
	lt.results.AvgResponseTimeMs = (lt.results.AvgResponseTimeMs*(currentCount-1) + float64(responseTimeMs)) / currentCount

	switch {
	case statusCode == http.StatusCreated && env.Success:
		lt.results.Admitted++
	case statusCode == http.StatusConflict:
		lt.results.Rejected++
		lt.results.RejectedByReason[env.Data.Reason]++
	default:
		lt.results.FailedReqs++
		lt.results.ErrorsByType[fmt.Sprintf("http_%d", statusCode)]++
	}
}

func (lt *LoadTester) recordError(errorType string) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	lt.results.TotalRequests++
	lt.results.FailedReqs++
	lt.results.ErrorsByType[errorType]++
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func (lt *LoadTester) printResults() {
	r := lt.results
	fmt.Println("\n" + strings.Repeat("=", 60))

	fmt.Printf("Test Configuration:\n")
	fmt.Printf("  - Slot: %s\n", lt.config.SlotID)
	fmt.Printf("  - Learners: %d\n", lt.config.NumLearners)
	fmt.Printf("  - Concurrent Users: %d\n", lt.config.ConcurrentUsers)

	fmt.Printf("\nOutcome:\n")
	fmt.Printf("  - Total Requests: %d\n", r.TotalRequests)
	fmt.Printf("  - Admitted: %d (%.2f%%)\n", r.Admitted, percent(r.Admitted, r.TotalRequests))
	fmt.Printf("  - Rejected: %d (%.2f%%)\n", r.Rejected, percent(r.Rejected, r.TotalRequests))
	fmt.Printf("  - Failed: %d (%.2f%%)\n", r.FailedReqs, percent(r.FailedReqs, r.TotalRequests))

	if len(r.RejectedByReason) > 0 {
		reasons := make([]string, 0, len(r.RejectedByReason))
		for reason := range r.RejectedByReason {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		fmt.Printf("\nRejections:\n")
		for _, reason := range reasons {
			fmt.Printf("  - %s: %d\n", reason, r.RejectedByReason[booking.Reason(reason)])
		}
	}

	if len(r.ErrorsByType) > 0 {
		fmt.Printf("\nError Breakdown:\n")
		for errorType, count := range r.ErrorsByType {
			fmt.Printf("  - %s: %d\n", errorType, count)
		}
	}

	fmt.Printf("\nResponse Time Metrics:\n")
	fmt.Printf("  - Average: %.2f ms\n", r.AvgResponseTimeMs)
	fmt.Printf("  - Minimum: %d ms\n", r.MinResponseTimeMs)
	fmt.Printf("  - Maximum: %d ms\n", r.MaxResponseTimeMs)
	fmt.Printf("  - Requests per Second: %.2f\n", r.ThroughputRPS)

	if lt.config.SlotCapacity > 0 {
		fmt.Printf("\nCapacity Check:\n")
		if r.Admitted > lt.config.SlotCapacity {
			fmt.Printf("  FAIL: %d admitted for %d places\n", r.Admitted, lt.config.SlotCapacity)
		} else {
			fmt.Printf("  OK: %d admitted for %d places\n", r.Admitted, lt.config.SlotCapacity)
		}
	}
}

// loadtestCmd represents the loadtest command
var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Race concurrent bookings against one slot",
	Long: `Mint sessions for many learners of one course and book the same slot
from all of them at once. The report groups rejections by reason and checks
that no more reservations were admitted than the slot has places.
Sessions are signed with the configured session secret, so the target
server must share it.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLoadTest()
	},
}

var (
	baseURL         string
	loadSlotID      string
	loadCourseID    string
	numLearners     int
	concurrentUsers int
	slotCapacity    int
)

func init() {
	rootCmd.AddCommand(loadtestCmd)

	loadtestCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the booking API")
	loadtestCmd.Flags().StringVar(&loadSlotID, "slot", "", "Slot to book")
	loadtestCmd.Flags().StringVar(&loadCourseID, "course", "", "LMS course id the slot belongs to")
	loadtestCmd.Flags().IntVar(&numLearners, "learners", 200, "Number of distinct learners")
	loadtestCmd.Flags().IntVar(&concurrentUsers, "concurrent", 50, "Number of requests in flight")
	loadtestCmd.Flags().IntVar(&slotCapacity, "capacity", 0, "Expected slot capacity to verify against (0 skips the check)")
	loadtestCmd.MarkFlagRequired("slot")
	loadtestCmd.MarkFlagRequired("course")
}

func runLoadTest() {
	slotID, err := uuid.Parse(loadSlotID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid slot id: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()
	signer, err := session.NewSigner(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTLDuration())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create session signer: %v\n", err)
		os.Exit(1)
	}

	loadTester := NewLoadTester(LoadTestConfig{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		SlotID:          slotID,
		LMSCourseID:     loadCourseID,
		NumLearners:     numLearners,
		ConcurrentUsers: concurrentUsers,
		SlotCapacity:    slotCapacity,
	})
	if err := loadTester.Initialize(signer); err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint sessions: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Slot Booking Load Test")
	fmt.Println("======================")
	loadTester.RunLoadTest()
}
