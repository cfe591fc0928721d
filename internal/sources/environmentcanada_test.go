package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newECTestAdapter(serverURL string, provinces []string) *EnvironmentCanadaAdapter {
	return NewEnvironmentCanadaAdapter(EnvironmentCanadaConfig{
		BaseURL:   serverURL,
		Provinces: provinces,
		HTTP: HTTPClientConfig{
			Client:  &http.Client{Timeout: 5 * time.Second},
			Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
		},
	})
}

func TestEnvironmentCanadaFlattensProvinces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		province := r.URL.Query().Get("PROV_TERR_STATE_LOC")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
		  "features": [
		    {
		      "properties": {"STATION_NUMBER": "%s-001", "STATION_NAME": "TEST RIVER %s", "PROV_TERR_STATE_LOC": "%s"},
		      "geometry": {"coordinates": [-114.05, 51.05]}
		    }
		  ],
		  "numberReturned": 1
		}`, province, province, province)
	}))
	defer server.Close()

	adapter := newECTestAdapter(server.URL, []string{"BC", "AB"})
	stations, err := adapter.FetchMetadata(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("expected one station per province, got %d", len(stations))
	}

	first := stations[0]
	if first.Zone != "BC" {
		t.Fatalf("expected province as zone, got %q", first.Zone)
	}
	if first.Country != "CA" {
		t.Fatalf("unexpected country %q", first.Country)
	}
	// GeoJSON ships lon/lat order; the adapter must swap.
	if first.Latitude == nil || *first.Latitude != 51.05 {
		t.Fatalf("unexpected latitude %v", first.Latitude)
	}
	if first.Longitude == nil || *first.Longitude != -114.05 {
		t.Fatalf("unexpected longitude %v", first.Longitude)
	}
}

func TestEnvironmentCanadaSplitsDischargeAndLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
		  "features": [
		    {
		      "properties": {
		        "STATION_NUMBER": "05BH004",
		        "DATETIME": "2026-05-01T08:00:00Z",
		        "DISCHARGE": 42.5,
		        "LEVEL": 1.8
		      },
		      "geometry": {"coordinates": [-114.05, 51.05]}
		    }
		  ]
		}`)) //nolint:errcheck
	}))
	defer server.Close()

	adapter := newECTestAdapter(server.URL, []string{"AB"})
	readings, err := adapter.FetchReadings(context.Background(), "05BH004", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected discharge and level as separate readings, got %d", len(readings))
	}
	if readings[0].Unit != "m3/s" || readings[0].Value != 42.5 {
		t.Fatalf("unexpected discharge reading %+v", readings[0])
	}
	if readings[1].Unit != "m" || readings[1].Value != 1.8 {
		t.Fatalf("unexpected level reading %+v", readings[1])
	}
}

func TestEnvironmentCanadaPartitions(t *testing.T) {
	adapter := newECTestAdapter("http://unused", []string{"BC", "AB", "ON"})
	partitions := adapter.Partitions()
	if len(partitions) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(partitions))
	}
}
