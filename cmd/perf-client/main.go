package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/couponcodes/internal/model"
	"github.com/kkkkikiki/couponcodes/internal/rpc"
)

// PerfResult gathers aggregated metrics for the test run.
// LatencySum & P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests  int64
	SuccessCount   int64
	ExhaustedCount int64
	ErrorCount     int64
	LatencySum     int64
	P95Latency     int64
}

const (
	baseURL        = "http://localhost:8080"
	tenantID       = 1
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedPoolSize  = 20000
	codeLength     = 8
	generateBatch  = 5000
)

func main() {
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := rpc.NewClient(httpClient, baseURL)

	// a fresh item per run keeps the pool empty of earlier claims
	scope := model.Scope{TenantID: tenantID, ItemID: time.Now().Unix()}
	if err := fillPool(client, scope, fixedPoolSize); err != nil {
		fmt.Fprintf(os.Stderr, "failed to fill pool: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pool ready: item %d (%d codes)\n", scope.ItemID, fixedPoolSize)

	fmt.Println("==========================================")
	fmt.Println("coupon code claim load test")
	fmt.Println("==========================================")
	fmt.Printf("item       : %d\n", scope.ItemID)
	fmt.Printf("RPS        : %d\n", rps)
	fmt.Printf("duration   : %v\n", duration)
	fmt.Println("==========================================")

	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var nextIdentity atomic.Int64
	var wg sync.WaitGroup

	latencyChan := make(chan time.Duration, 4096)
	var trackerDone sync.WaitGroup
	trackerDone.Add(1)
	go func() {
		defer trackerDone.Done()
		trackP95(latencyChan, &result)
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				doClaim(client, scope, nextIdentity.Add(1), &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()

	wg.Wait()
	close(latencyChan)
	trackerDone.Wait()

	totalDur := time.Since(start)

	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed            : %.2fs\n", totalDur.Seconds())
	fmt.Printf("total requests     : %d\n", result.TotalRequests)
	fmt.Printf("claimed            : %d\n", result.SuccessCount)
	fmt.Printf("pool exhausted     : %d\n", result.ExhaustedCount)
	fmt.Printf("failed             : %d\n", result.ErrorCount)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	fmt.Printf("claims per second  : %.2f\n", float64(result.SuccessCount)/totalDur.Seconds())
	fmt.Printf("average latency    : %v\n", avgLatency)
	fmt.Printf("p95 latency        : %v\n", time.Duration(result.P95Latency))

	fmt.Println("==========================================")
	fmt.Println("consistency check")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(client, scope, result.SuccessCount); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	fmt.Println("==========================================")
}

// fillPool generates size codes for the scope in batches the service accepts.
func fillPool(client *rpc.Client, scope model.Scope, size int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for remaining := size; remaining > 0; remaining -= generateBatch {
		count := min(remaining, generateBatch)
		resp, err := client.Generate(ctx, connect.NewRequest(&rpc.GenerateRequest{
			Scope:  scope,
			Count:  count,
			Length: codeLength,
		}))
		if err != nil {
			return fmt.Errorf("generate failed: %w", err)
		}
		if resp.Msg.Inserted != count {
			return fmt.Errorf("generate inserted %d of %d codes", resp.Msg.Inserted, count)
		}
	}
	return nil
}

// doClaim performs a single Claim RPC for a new identity and collects metrics.
func doClaim(client *rpc.Client, scope model.Scope, identity int64, result *PerfResult, latencyChan chan<- time.Duration) {
	// independent of the run context so in-flight claims are not cut off when the test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := connect.NewRequest(&rpc.ClaimRequest{Scope: scope, AssociationID: identity})

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.Claim(ctx, req)
	latency := time.Since(start)

	switch {
	case err != nil:
		atomic.AddInt64(&result.ErrorCount, 1)
	case resp.Msg.Exhausted:
		atomic.AddInt64(&result.ExhaustedCount, 1)
	case resp.Msg.Code != "" && !resp.Msg.Existing:
		atomic.AddInt64(&result.SuccessCount, 1)
		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		select {
		case latencyChan <- latency:
		default:
		}
	default:
		// a new identity must never be handed an existing code
		atomic.AddInt64(&result.ErrorCount, 1)
	}
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

// verifyDataConsistency checks the pool against the claims the test observed:
// the used count matches, no code went to two identities and no identity holds two codes.
func verifyDataConsistency(client *rpc.Client, scope model.Scope, expectedClaimed int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stats, err := client.Stats(ctx, connect.NewRequest(&rpc.StatsRequest{Scope: scope}))
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	export, err := client.Export(ctx, connect.NewRequest(&rpc.ExportRequest{Scope: scope}))
	if err != nil {
		return fmt.Errorf("failed to export pool: %w", err)
	}

	fmt.Printf("total codes        : %d\n", stats.Msg.Total)
	fmt.Printf("used (database)    : %d\n", stats.Msg.Used)
	fmt.Printf("claimed (client)   : %d\n", expectedClaimed)
	fmt.Printf("unused             : %d\n", stats.Msg.Unused)

	if stats.Msg.Used != expectedClaimed {
		return fmt.Errorf("mismatch: database=%d, client=%d, diff=%d",
			stats.Msg.Used, expectedClaimed, stats.Msg.Used-expectedClaimed)
	}
	if stats.Msg.Used+stats.Msg.Unused != stats.Msg.Total {
		return fmt.Errorf("used %d + unused %d != total %d", stats.Msg.Used, stats.Msg.Unused, stats.Msg.Total)
	}

	codes := model.NewCodeSet()
	holders := make(map[int64]string)
	var sample *model.ExportRow
	for _, row := range export.Msg.Rows {
		if codes.Has(row.Code) {
			return fmt.Errorf("code %s appears twice", row.Code)
		}
		codes.Add(row.Code)

		if row.AssociationID == nil {
			continue
		}
		if other, ok := holders[*row.AssociationID]; ok {
			return fmt.Errorf("identity %d holds %s and %s", *row.AssociationID, other, row.Code)
		}
		holders[*row.AssociationID] = row.Code
		if sample == nil {
			sample = &row
		}
	}
	if int64(len(holders)) != stats.Msg.Used {
		return fmt.Errorf("export shows %d holders, stats shows %d used", len(holders), stats.Msg.Used)
	}

	// claiming again must return the same code without consuming one
	if sample != nil {
		resp, err := client.Claim(ctx, connect.NewRequest(&rpc.ClaimRequest{Scope: scope, AssociationID: *sample.AssociationID}))
		if err != nil {
			return fmt.Errorf("repeat claim failed: %w", err)
		}
		if resp.Msg.Code != sample.Code || !resp.Msg.Existing {
			return fmt.Errorf("repeat claim for %d returned %q, want %q", *sample.AssociationID, resp.Msg.Code, sample.Code)
		}
	}

	return nil
}
