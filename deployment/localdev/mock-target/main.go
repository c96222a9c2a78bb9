package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
)

// Mock monitored service for local development. Toggle failure injection with
// POST /inject?unhealthy=true&error_rate=12.5 to watch the gates trip.

type state struct {
	unhealthy atomic.Bool
	errorRate atomic.Value // float64
	latencyMs atomic.Value // float64
}

func main() {
	var st state
	st.errorRate.Store(1.5)
	st.latencyMs.Store(120.0)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if st.unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"metrics": map[string]float64{
				"error_rate": st.errorRate.Load().(float64),
				"latency_ms": st.latencyMs.Load().(float64),
			},
		})
	})

	mux.HandleFunc("/inject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		if v := q.Get("unhealthy"); v != "" {
			st.unhealthy.Store(v == "true" || v == "1")
		}
		if v := q.Get("error_rate"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				st.errorRate.Store(f)
			}
		}
		if v := q.Get("latency_ms"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				st.latencyMs.Store(f)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	addr := ":8085"
	log.Printf("mock-target listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
