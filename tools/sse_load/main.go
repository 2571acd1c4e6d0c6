// Command sse_load opens many concurrent connections to the journal SSE
// stream and verifies the frames it receives: every event must carry a kind
// the server emits (decision, execution) and a JSON payload with a
// decision_id. Used to size the status server and to catch malformed frames
// under load.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type counters struct {
	connected   int64
	connectErrs int64
	streamErrs  int64
	decisions   int64
	executions  int64
	otherKinds  int64
	malformed   int64
	heartbeats  int64
}

func (c *counters) String() string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d decisions=%d executions=%d other=%d malformed=%d heartbeats=%d",
		atomic.LoadInt64(&c.connected),
		atomic.LoadInt64(&c.connectErrs),
		atomic.LoadInt64(&c.streamErrs),
		atomic.LoadInt64(&c.decisions),
		atomic.LoadInt64(&c.executions),
		atomic.LoadInt64(&c.otherKinds),
		atomic.LoadInt64(&c.malformed),
		atomic.LoadInt64(&c.heartbeats))
}

// journalPayload is the subset of DecisionEntry/ExecutionEntry every frame
// must carry.
type journalPayload struct {
	DecisionID string `json:"decision_id"`
}

func main() {
	var (
		targetURL    string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/journal/stream", "journal stream URL")
	flag.IntVar(&connections, "conns", 500, "number of concurrent stream consumers")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "ramp-up duration (spread connection starts across this window)")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}
	if rampUp == 0 && connections > 100 {
		// default ramp-up: 1 second per 500 connections
		rampUp = time.Duration(connections/500) * time.Second
		if rampUp < time.Second {
			rampUp = time.Second
		}
		log.Printf("no ramp-up specified, using default: %s", rampUp)
	}

	log.Printf("starting journal stream load: url=%s conns=%d duration=%s ramp=%s",
		targetURL, connections, testDuration, rampUp)

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
		Timeout: 0, // streaming
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("caught signal: %s, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if testDuration > 0 {
		go func() {
			select {
			case <-time.After(testDuration):
				log.Printf("duration reached, stopping...")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	stats := &counters{}
	var wg sync.WaitGroup
	start := time.Now()

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	for i := 0; i < connections; i++ {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, client, targetURL, stats)
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", stats, time.Since(start).Truncate(time.Second))
			}
		}
	}()

	wg.Wait()
	cancel()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}
	total := atomic.LoadInt64(&stats.decisions) + atomic.LoadInt64(&stats.executions)
	fmt.Printf("done: %s elapsed=%s events/s=%.2f\n",
		stats, elapsed.Truncate(time.Millisecond), float64(total)/elapsed.Seconds())

	if atomic.LoadInt64(&stats.malformed) > 0 {
		os.Exit(1)
	}
}

// consume reads one SSE connection until ctx is cancelled, accumulating
// per-kind frame counts into stats.
func consume(ctx context.Context, client *http.Client, url string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		atomic.AddInt64(&stats.connectErrs, 1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&stats.connectErrs, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&stats.connectErrs, 1)
		return
	}

	atomic.AddInt64(&stats.connected, 1)
	reader := bufio.NewReader(resp.Body)

	var kind string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&stats.streamErrs, 1)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, ":"):
			atomic.AddInt64(&stats.heartbeats, 1)
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			record(kind, strings.TrimPrefix(line, "data: "), stats)
		case line == "":
			kind = ""
		}
	}
}

func record(kind, data string, stats *counters) {
	var payload journalPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.DecisionID == "" {
		atomic.AddInt64(&stats.malformed, 1)
		return
	}

	switch kind {
	case "decision":
		atomic.AddInt64(&stats.decisions, 1)
	case "execution":
		atomic.AddInt64(&stats.executions, 1)
	default:
		atomic.AddInt64(&stats.otherKinds, 1)
	}
}
