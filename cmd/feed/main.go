// Command feed generates synthetic scored events and posts them to a running
// moodline instance. It is a load and smoke tool: it exercises ingestion,
// duplicate handling, and backfill paths.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default configuration constants.
const (
	defaultNumEvents = 10000
	defaultWorkers   = 8
	defaultTimeout   = 30 * time.Second
	defaultRunLimit  = 10 * time.Minute
)

type eventPayload struct {
	EventID    string  `json:"event_id"`
	Subject    string  `json:"subject"`
	Score      float64 `json:"score"`
	OccurredAt string  `json:"occurred_at"`
}

func main() {
	var (
		baseURL       = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents     = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		workers       = flag.Int("workers", defaultWorkers, "Number of concurrent workers")
		timeout       = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		subjects      = flag.String("subjects", "AAPL,TSLA,MSFT,NVDA,AMZN", "Comma-separated subject list")
		duplicatePct  = flag.Int("duplicates", 5, "Percent of events re-sent with the same event id")
		backfillPct   = flag.Int("backfill", 10, "Percent of events with an occurred_at in the past hour")
		rate          = flag.Int("rate", 0, "Events per second (0 = unthrottled)")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunLimit)
	defer cancel()

	subjectList := strings.Split(*subjects, ",")
	client := &http.Client{Timeout: *timeout}

	jobs := make(chan eventPayload, *workers*2)
	var sent, accepted, duplicates, failed atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				status, err := post(ctx, client, *baseURL+"/events", ev)
				sent.Add(1)
				switch {
				case err != nil:
					failed.Add(1)
				case status == http.StatusAccepted:
					accepted.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

	var throttle <-chan time.Time
	if *rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(*rate))
		defer ticker.Stop()
		throttle = ticker.C
	}

	start := time.Now()
	var lastEvent *eventPayload
	for i := 0; i < *numEvents; i++ {
		if ctx.Err() != nil {
			break
		}
		if throttle != nil {
			<-throttle
		}

		var ev eventPayload
		if lastEvent != nil && rand.Intn(100) < *duplicatePct {
			// Re-send the previous event verbatim: the service must count it once.
			ev = *lastEvent
			duplicates.Add(1)
		} else {
			occurred := time.Now()
			if rand.Intn(100) < *backfillPct {
				occurred = occurred.Add(-time.Duration(rand.Intn(3600)) * time.Second)
			}
			ev = eventPayload{
				EventID:    uuid.NewString(),
				Subject:    subjectList[rand.Intn(len(subjectList))],
				Score:      rand.Float64()*2 - 1,
				OccurredAt: occurred.Format(time.RFC3339),
			}
			lastEvent = &ev
		}
		jobs <- ev
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("sent=%d accepted=%d duplicates=%d failed=%d elapsed=%s rate=%.0f/s\n",
		sent.Load(), accepted.Load(), duplicates.Load(), failed.Load(),
		elapsed.Round(time.Millisecond), float64(sent.Load())/elapsed.Seconds())

	if failed.Load() > 0 {
		os.Exit(1)
	}
}

func post(ctx context.Context, client *http.Client, url string, ev eventPayload) (int, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
