package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowmark/flowmark/internal/database"
	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/flowmark/flowmark/internal/query"
	"github.com/flowmark/flowmark/internal/server"
	"github.com/flowmark/flowmark/internal/sources"
	"github.com/flowmark/flowmark/internal/syncer"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const potomacFixture = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {
          "siteName": "POTOMAC RIVER NEAR WASH, DC LITTLE FALLS PUMP STA",
          "siteCode": [{"value": "01646500"}],
          "geoLocation": {"geogLocation": {"latitude": 38.94977778, "longitude": -77.12763889}}
        },
        "variable": {"unit": {"unitCode": "ft3/s"}},
        "values": [
          {
            "value": [
              {"value": "320.5", "qualifiers": ["P"], "dateTime": "2026-05-01T08:00:00.000+00:00"}
            ]
          }
        ]
      }
    ]
  }
}`

// TestSeedAndRefreshFlow walks the whole pipeline over HTTP: seed the catalog
// from a fake upstream, refresh a gauge, confirm the reading landed with a
// canonical metric label, then refresh again and confirm the dedup key held.
func TestSeedAndRefreshFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, potomacFixture)
	}))
	defer upstream.Close()

	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "integration.db"), false, nil)
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := gauges.NewStore(gauges.StoreConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}

	adapter := sources.NewUSGSAdapter(sources.USGSConfig{
		BaseURL:    upstream.URL,
		StateCodes: []string{"md"},
		HTTP: sources.HTTPClientConfig{
			Client:  &http.Client{Timeout: 5 * time.Second},
			Backoff: sources.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
		},
	})
	coordinator, err := syncer.NewCoordinator(syncer.Config{
		Store:    store,
		Adapters: []sources.Adapter{adapter},
		Clock:    clock,
	})
	if err != nil {
		testContext.Fatalf("failed to build coordinator: %v", err)
	}
	facade, err := query.NewFacade(query.FacadeConfig{Store: store, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build facade: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Facade:      facade,
		Coordinator: coordinator,
		Store:       store,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	seedBody := postJSON(testContext, testServer.URL+"/seed", "")
	if seedBody["seeded"] != float64(1) {
		testContext.Fatalf("expected one seeded gauge, got %v", seedBody)
	}

	searchBody := getJSON(testContext, testServer.URL+"/gauges/search?q=potomac")
	found, ok := searchBody["gauges"].([]any)
	if !ok || len(found) != 1 {
		testContext.Fatalf("expected one search hit, got %v", searchBody["gauges"])
	}
	gauge := found[0].(map[string]any)
	gaugeID := int64(gauge["id"].(float64))
	if gauge["metric"] != "cfs" {
		testContext.Fatalf("expected canonical metric label, got %v", gauge["metric"])
	}

	refreshBody := postJSON(testContext, fmt.Sprintf("%s/gauges/%d/refresh", testServer.URL, gaugeID), "")
	if refreshBody["inserted"] != float64(1) || refreshBody["ignored"] != float64(0) {
		testContext.Fatalf("expected one inserted reading, got %v", refreshBody)
	}

	// Re-ingesting the same observation must be a no-op.
	refreshBody = postJSON(testContext, fmt.Sprintf("%s/gauges/%d/refresh", testServer.URL, gaugeID), "")
	if refreshBody["inserted"] != float64(0) || refreshBody["ignored"] != float64(1) {
		testContext.Fatalf("expected the duplicate to be ignored, got %v", refreshBody)
	}

	readingsBody := getJSON(testContext, fmt.Sprintf("%s/gauges/%d/readings", testServer.URL, gaugeID))
	readings, ok := readingsBody["readings"].([]any)
	if !ok || len(readings) != 1 {
		testContext.Fatalf("expected exactly one stored reading, got %v", readingsBody["readings"])
	}

	searchBody = getJSON(testContext, testServer.URL+"/gauges/search?q=potomac")
	gauge = searchBody["gauges"].([]any)[0].(map[string]any)
	if gauge["stale"] != false {
		testContext.Fatalf("freshly refreshed gauge must not be stale: %v", gauge)
	}

	clock.Advance(31 * time.Minute)
	searchBody = getJSON(testContext, testServer.URL+"/gauges/search?q=potomac")
	gauge = searchBody["gauges"].([]any)[0].(map[string]any)
	if gauge["stale"] != true {
		testContext.Fatalf("gauge must be stale 31 minutes after refresh: %v", gauge)
	}
}

func postJSON(testContext *testing.T, target, body string) map[string]any {
	testContext.Helper()
	response, err := http.Post(target, "application/json", strings.NewReader(body))
	if err != nil {
		testContext.Fatalf("post %s failed: %v", target, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("post %s returned %d", target, response.StatusCode)
	}
	return decodePayload(testContext, response)
}

func getJSON(testContext *testing.T, target string) map[string]any {
	testContext.Helper()
	response, err := http.Get(target)
	if err != nil {
		testContext.Fatalf("get %s failed: %v", target, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("get %s returned %d", target, response.StatusCode)
	}
	return decodePayload(testContext, response)
}

func decodePayload(testContext *testing.T, response *http.Response) map[string]any {
	testContext.Helper()
	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return payload
}
