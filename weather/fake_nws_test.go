package weather

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeNWS serves canned points/forecast/alerts responses and records the
// request paths it saw.
type fakeNWS struct {
	*httptest.Server
	mu       sync.Mutex
	paths    []string
	periods  []map[string]any
	alerts   []map[string]any
	failWith int
}

func newFakeNWS(t *testing.T) *fakeNWS {
	t.Helper()
	f := &fakeNWS{}
	mux := http.NewServeMux()
	mux.HandleFunc("/points/", func(w http.ResponseWriter, r *http.Request) {
		if f.record(t, w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"properties": map[string]any{"forecast": f.URL + "/gridpoints/OKX/33,35/forecast"},
		})
	})
	mux.HandleFunc("/gridpoints/", func(w http.ResponseWriter, r *http.Request) {
		if f.record(t, w, r) {
			return
		}
		f.mu.Lock()
		periods := f.periods
		f.mu.Unlock()
		writeJSON(w, map[string]any{"properties": map[string]any{"periods": periods}})
	})
	mux.HandleFunc("/alerts/active", func(w http.ResponseWriter, r *http.Request) {
		if f.record(t, w, r) {
			return
		}
		f.mu.Lock()
		alerts := f.alerts
		f.mu.Unlock()
		writeJSON(w, map[string]any{"features": alerts})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeNWS) record(t *testing.T, w http.ResponseWriter, r *http.Request) bool {
	assert.Equal(t, "weather-app/1.0", r.Header.Get("User-Agent"))
	assert.Equal(t, "application/geo+json", r.Header.Get("Accept"))
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.RequestURI())
	failWith := f.failWith
	f.mu.Unlock()
	if failWith != 0 {
		w.WriteHeader(failWith)
		return true
	}
	return false
}

func (f *fakeNWS) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeNWS) client() *Client {
	return NewClient(f.URL, "", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(body)
}

func period(name string, temperature float64, shortForecast string) map[string]any {
	return map[string]any{
		"name":            name,
		"temperature":     temperature,
		"temperatureUnit": "F",
		"windSpeed":       "10 mph",
		"windDirection":   "NW",
		"shortForecast":   shortForecast,
	}
}
