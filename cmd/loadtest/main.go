package main

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-resty/resty/v2"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
)

// LoadTestConfig drives slip uploads against a running API, usually backed
// by cmd/slipmock.
type LoadTestConfig struct {
	URL               string        `env:"TARGET_URL,default=http://localhost:8080/api/v1/deposits/slip"`
	RequestsPerSecond int           `env:"REQUESTS_PER_SECOND,default=200"`
	DurationSeconds   int           `env:"DURATION_SECONDS,default=30"`
	ConcurrentWorkers int           `env:"CONCURRENT_WORKERS,default=50"`
	Users             int64         `env:"USERS,default=10"`
	Amount            string        `env:"AMOUNT,default=100"`
	ImageSize         int           `env:"IMAGE_SIZE,default=65536"`
	DuplicateEvery    int           `env:"DUPLICATE_EVERY,default=0"`
	Timeout           time.Duration `env:"REQUEST_TIMEOUT,default=30s"`
}

type response struct {
	Code string `json:"code"`
}

type Stats struct {
	sent          atomic.Int64
	transportErrs atomic.Int64
	mu            sync.Mutex
	codes         map[string]int64
	responseTimes []float64
}

func (s *Stats) record(code string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code]++
	s.responseTimes = append(s.responseTimes, seconds)
}

func (s *Stats) snapshot() (map[string]int64, []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make(map[string]int64, len(s.codes))
	for k, v := range s.codes {
		codes[k] = v
	}
	times := make([]float64, len(s.responseTimes))
	copy(times, s.responseTimes)
	return codes, times
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// slipImage returns a PNG with random content so every upload is a new
// slip for the mock provider.
func slipImage(size int) []byte {
	b := make([]byte, size)
	_, _ = rand.Read(b)
	copy(b, pngHeader)
	return b
}

func sendSlip(client *resty.Client, config LoadTestConfig, userID int64, image []byte, stats *Stats) {
	start := time.Now()
	var body response
	resp, err := client.R().
		SetHeader("X-User-Id", strconv.FormatInt(userID, 10)).
		SetFileReader("file", "slip.png", bytes.NewReader(image)).
		SetFormData(map[string]string{"amount": config.Amount}).
		SetResult(&body).
		SetError(&body).
		Post(config.URL)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		stats.transportErrs.Add(1)
		stats.record("transport_error", elapsed)
		return
	}

	code := body.Code
	if code == "" {
		code = "http_" + strconv.Itoa(resp.StatusCode())
	}
	stats.record(code, elapsed)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func main() {
	var config LoadTestConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		logger.Error("failed to read load test config", "error", err)
		return
	}
	if config.Users <= 0 {
		config.Users = 1
	}

	fmt.Println("Starting slip upload load test...")
	fmt.Printf("Target: %s\n", config.URL)
	fmt.Printf("Target RPS: %d for %d seconds, %d workers, %d users\n",
		config.RequestsPerSecond, config.DurationSeconds, config.ConcurrentWorkers, config.Users)
	fmt.Println(strings.Repeat("-", 50))

	client := resty.New().SetTimeout(config.Timeout)
	stats := &Stats{codes: make(map[string]int64)}

	jobs := make(chan int64, config.RequestsPerSecond)
	var wg sync.WaitGroup
	var lastImage atomic.Value
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				image := slipImage(config.ImageSize)
				// re-upload the previous slip to exercise duplicate detection
				if config.DuplicateEvery > 0 && n%int64(config.DuplicateEvery) == 0 {
					if prev, ok := lastImage.Load().([]byte); ok {
						image = prev
					}
				}
				lastImage.Store(image)
				sendSlip(client, config, n%config.Users+1, image, stats)
			}
		}()
	}

	startTime := time.Now()
	var n int64
	for sec := 0; sec < config.DurationSeconds; sec++ {
		batchStart := time.Now()
		for j := 0; j < config.RequestsPerSecond; j++ {
			n++
			jobs <- n
			stats.sent.Add(1)
		}

		codes, _ := stats.snapshot()
		fmt.Printf("[%ds] sent: %d | success: %d | transport errors: %d\n",
			sec+1, stats.sent.Load(), codes["success"], stats.transportErrs.Load())

		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startTime).Seconds()
	codes, times := stats.snapshot()
	sort.Float64s(times)

	var total int64
	keys := make([]string, 0, len(codes))
	for k, v := range codes {
		keys = append(keys, k)
		total += v
	}
	sort.Strings(keys)

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Total requests: %d\n", total)
	fmt.Printf("Actual RPS: %.2f\n", float64(total)/duration)
	fmt.Println("\nResults by code:")
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, codes[k])
	}
	if len(times) > 0 {
		var sum float64
		for _, t := range times {
			sum += t
		}
		fmt.Printf("\nResponse times:\n")
		fmt.Printf("  Average: %.2f ms\n", sum/float64(len(times))*1000)
		fmt.Printf("  P50: %.2f ms\n", percentile(times, 0.50)*1000)
		fmt.Printf("  P95: %.2f ms\n", percentile(times, 0.95)*1000)
		fmt.Printf("  P99: %.2f ms\n", percentile(times, 0.99)*1000)
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}
