package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moodline/moodline/internal/adapters/http/api"
	service "github.com/moodline/moodline/internal/app"
	"github.com/moodline/moodline/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newTestServer(t *testing.T, opts ...service.Option) (*httptest.Server, *service.Service) {
	t.Helper()

	svc := service.New(append([]service.Option{service.WithWorkerCount(2)}, opts...)...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(context.Background(), mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, svc
}

func postEvent(ts *httptest.Server, body string) (*http.Response, error) {
	return http.Post(ts.URL+"/events", "application/json", strings.NewReader(body))
}

func validEventBody(subject string) string {
	return fmt.Sprintf(`{"event_id":%q,"subject":%q,"score":0.6,"occurred_at":%q}`,
		uuid.NewString(), subject, time.Now().Format(time.RFC3339))
}

func TestEventsEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		ts, _ := newTestServer(t)

		Convey("When posting a valid event", func() {
			resp, err := postEvent(ts, validEventBody("AAPL"))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is accepted", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When posting malformed JSON", func() {
			resp, err := postEvent(ts, "{not json")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When posting an event without a subject", func() {
			body := fmt.Sprintf(`{"event_id":%q,"score":0.5,"occurred_at":%q}`,
				uuid.NewString(), time.Now().Format(time.RFC3339))
			resp, err := postEvent(ts, body)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When posting an event with an out-of-range score", func() {
			body := fmt.Sprintf(`{"event_id":%q,"subject":"AAPL","score":3.0,"occurred_at":%q}`,
				uuid.NewString(), time.Now().Format(time.RFC3339))
			resp, err := postEvent(ts, body)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When using the wrong method", func() {
			resp, err := http.Get(ts.URL + "/events")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestBucketsEndpoint(t *testing.T) {
	Convey("Given a running API server with one ingested event", t, func() {
		ts, _ := newTestServer(t)

		resp, err := postEvent(ts, validEventBody("TSLA"))
		So(err, ShouldBeNil)
		resp.Body.Close()
		So(resp.StatusCode, ShouldEqual, http.StatusAccepted)

		getBucket := func(query string) (int, map[string]any) {
			r, err := http.Get(ts.URL + "/buckets?" + query)
			So(err, ShouldBeNil)
			defer r.Body.Close()
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			return r.StatusCode, body
		}

		Convey("When querying the current bucket", func() {
			var status int
			var body map[string]any
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				status, body = getBucket("subject=TSLA&resolution=1h")
				if count, ok := body["count"].(float64); ok && count >= 1 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			Convey("Then the aggregated state is returned", func() {
				So(status, ShouldEqual, http.StatusOK)
				So(body["count"], ShouldEqual, 1)
				So(body["subject"], ShouldEqual, "TSLA")
				So(body["resolution"], ShouldEqual, "1h")
				So(body["is_partial"], ShouldEqual, true)
			})
		})

		Convey("When querying a range", func() {
			start := time.Now().Add(-time.Hour).Format(time.RFC3339)
			end := time.Now().Add(time.Hour).Format(time.RFC3339)
			r, err := http.Get(ts.URL + fmt.Sprintf("/buckets?subject=TSLA&resolution=1m&start=%s&end=%s", start, end))
			So(err, ShouldBeNil)
			defer r.Body.Close()

			Convey("Then a list is returned", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				var body []map[string]any
				So(json.NewDecoder(r.Body).Decode(&body), ShouldBeNil)
			})
		})

		Convey("When required parameters are missing", func() {
			status, _ := getBucket("subject=TSLA")
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the resolution is unknown", func() {
			status, _ := getBucket("subject=TSLA&resolution=7x")
			So(status, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestStreamEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		ts, svc := newTestServer(t, service.WithMaxSubscriptions(2))

		Convey("When the last_event_id is not a number", func() {
			resp, err := http.Get(ts.URL + "/stream?subject=AAPL&last_event_id=abc")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the resolution filter is unknown", func() {
			resp, err := http.Get(ts.URL + "/stream?subject=AAPL&resolution=bogus")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When capacity is exhausted", func() {
			for i := 0; i < 2; i++ {
				_, _, _, err := svc.Subscribe("AAPL", "", 0)
				So(err, ShouldBeNil)
			}

			resp, err := http.Get(ts.URL + "/stream?subject=AAPL")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("When streaming live updates over SSE", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream?subject=MSFT", nil)
			So(err, ShouldBeNil)
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Content-Type"), ShouldEqual, "text/event-stream")

			// Trigger a bucket update for the subscribed subject.
			r, err := postEvent(ts, validEventBody("MSFT"))
			So(err, ShouldBeNil)
			r.Body.Close()

			Convey("Then a bucket_update frame arrives with id, event, and data lines", func() {
				scanner := bufio.NewScanner(resp.Body)
				var idLine, eventLine, dataLine string
				for scanner.Scan() {
					line := scanner.Text()
					switch {
					case strings.HasPrefix(line, "id: "):
						idLine = line
					case strings.HasPrefix(line, "event: "):
						eventLine = line
					case strings.HasPrefix(line, "data: "):
						dataLine = line
					}
					if eventLine == "event: bucket_update" && dataLine != "" {
						break
					}
				}

				So(eventLine, ShouldEqual, "event: bucket_update")
				So(idLine, ShouldNotBeEmpty)
				So(dataLine, ShouldContainSubstring, `"subject":"MSFT"`)
			})
		})
	})
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	Convey("Given a running API server", t, func() {
		ts, _ := newTestServer(t)

		Convey("Then /stats returns the service gauges", func() {
			resp, err := http.Get(ts.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
		})

		Convey("Then /healthz serves prometheus metrics", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
