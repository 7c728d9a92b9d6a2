// Loadtest drives concurrent traffic through the gateway and reports how it was
// spread across backends, how often the gateway had nothing to route to, and
// whether every response carried a request id.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/sub -concurrency 20 -requests 2000
//
// Toggle a mock backend (POST /toggle) while it runs to watch failover.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type backendStats struct {
	count     int
	latencies []time.Duration
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	var (
		transportErrors atomic.Int32
		missingIDs      atomic.Int32
		mu              sync.Mutex
		statusCodes     = make(map[int]int)
		backends        = make(map[string]*backendStats)
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				start := time.Now()
				resp, err := client.Get(*url)
				dur := time.Since(start)
				if err != nil {
					transportErrors.Add(1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.Header.Get("X-Request-ID") == "" {
					missingIDs.Add(1)
				}

				backend := resp.Header.Get("X-Backend-Server")
				if backend == "" {
					backend = "(none)"
				}

				mu.Lock()
				statusCodes[resp.StatusCode]++
				bs, ok := backends[backend]
				if !ok {
					bs = &backendStats{}
					backends[backend] = bs
				}
				bs.count++
				bs.latencies = append(bs.latencies, dur)
				mu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d backend=%s status=%d dur=%v\n", workerID, idx, backend, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	total := time.Since(testStart)

	fmt.Println("--- Gateway Load Test ---")
	fmt.Printf("Target: %s  Requests: %d  Concurrency: %d\n", *url, *requests, *concurrency)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", total, float64(*requests)/total.Seconds())
	fmt.Printf("Transport errors: %d  Responses without X-Request-ID: %d\n", transportErrors.Load(), missingIDs.Load())

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bs := backends[name]
		slices.Sort(bs.latencies)
		fmt.Printf("  %s -> %d (%.1f%%) p50=%v p99=%v\n",
			name, bs.count, 100*float64(bs.count)/float64(*requests),
			percentile(bs.latencies, 0.50), percentile(bs.latencies, 0.99))
	}

	if transportErrors.Load() > 0 || statusCodes[http.StatusServiceUnavailable] > 0 {
		os.Exit(2)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}
