package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const usgsFixture = `{
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
              {"value": "320.5", "qualifiers": ["P"], "dateTime": "2026-05-01T08:00:00.000-04:00"},
              {"value": "-999999", "qualifiers": ["P"], "dateTime": "2026-05-01T08:15:00.000-04:00"},
              {"value": "325.0", "qualifiers": ["A"], "dateTime": "2026-05-01T08:30:00.000-04:00"}
            ]
          }
        ]
      }
    ]
  }
}`

func newUSGSTestAdapter(serverURL string) *USGSAdapter {
	return NewUSGSAdapter(USGSConfig{
		BaseURL:    serverURL,
		StateCodes: []string{"md"},
		HTTP: HTTPClientConfig{
			Client:  &http.Client{Timeout: 5 * time.Second},
			Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
		},
	})
}

func TestUSGSFetchMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("stateCd"); got != "md" {
			t.Errorf("expected stateCd=md, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(usgsFixture)) //nolint:errcheck
	}))
	defer server.Close()

	adapter := newUSGSTestAdapter(server.URL)
	stations, err := adapter.FetchMetadata(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("expected 1 station, got %d", len(stations))
	}

	station := stations[0]
	if station.SiteID != "01646500" {
		t.Fatalf("unexpected site id %q", station.SiteID)
	}
	if station.Zone != "" {
		t.Fatalf("usgs stations have no sub-region, got zone %q", station.Zone)
	}
	if station.Latitude == nil || *station.Latitude != 38.94977778 {
		t.Fatalf("unexpected latitude %v", station.Latitude)
	}
	if station.State != "MD" {
		t.Fatalf("unexpected state %q", station.State)
	}
}

func TestUSGSFetchReadingsSkipsSentinels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sites"); got != "01646500" {
			t.Errorf("expected sites=01646500, got %q", got)
		}
		if got := r.URL.Query().Get("startDT"); got == "" {
			t.Errorf("expected startDT to be set for incremental fetch")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(usgsFixture)) //nolint:errcheck
	}))
	defer server.Close()

	adapter := newUSGSTestAdapter(server.URL)
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	readings, err := adapter.FetchReadings(context.Background(), "01646500", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected sentinel value to be skipped, got %d readings", len(readings))
	}
	if readings[0].Value != 320.5 {
		t.Fatalf("unexpected value %v", readings[0].Value)
	}
	if readings[0].Unit != "ft3/s" {
		t.Fatalf("unexpected unit %q", readings[0].Unit)
	}
	if readings[0].Status != "ok" {
		t.Fatalf("provisional qualifier must map to ok, got %q", readings[0].Status)
	}
	if readings[0].Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps")
	}
}

func TestUSGSFetchFailsWithSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := newUSGSTestAdapter(server.URL)
	if _, err := adapter.FetchMetadata(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
