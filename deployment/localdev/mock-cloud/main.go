package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

// probeState is the scripted health of one (service, region) pair. The
// engine's prober reads it back as {"status", "success_ratio"}.
type probeState struct {
	SuccessRatio float64       `json:"success_ratio"`
	Latency      time.Duration `json:"-"`
	Down         bool          `json:"-"`
}

type simulateRequest struct {
	Service      string  `json:"service"`
	Region       string  `json:"region"`
	SuccessRatio float64 `json:"success_ratio"`
	LatencyMs    int     `json:"latency_ms"`
	Down         bool    `json:"down"`
}

type dnsUpdate struct {
	Zone   string `json:"zone"`
	Record string `json:"record"`
	Target string `json:"target"`
}

type cdnUpdate struct {
	DistributionID string `json:"distribution_id"`
	Origin         string `json:"origin"`
}

type capacityUpdate struct {
	Target string `json:"target"`
	Delta  int    `json:"delta"`
}

type alertPayload struct {
	Severity        string   `json:"severity"`
	Message         string   `json:"message"`
	Recommendations []string `json:"recommendations"`
}

// simulator holds scripted probe outcomes, keyed by service/region.
// Unscripted pairs report fully healthy.
type simulator struct {
	mu     sync.Mutex
	states map[string]probeState
}

func newSimulator() *simulator {
	return &simulator{states: make(map[string]probeState)}
}

func (s *simulator) set(service, region string, state probeState) {
	s.mu.Lock()
	s.states[service+"/"+region] = state
	s.mu.Unlock()
}

func (s *simulator) get(service, region string) probeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[service+"/"+region]; ok {
		return state
	}
	return probeState{SuccessRatio: 1}
}

func main() {
	sim := newSimulator()
	logger := log.New(log.Writer(), "cloud-mock ", log.LstdFlags|log.Lmicroseconds)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Health endpoint matching the prober's urlTemplate
	// "http://localhost:9090/probe/%s/%s".
	mux.HandleFunc("GET /probe/{service}/{region}", func(w http.ResponseWriter, r *http.Request) {
		state := sim.get(r.PathValue("service"), r.PathValue("region"))
		if state.Latency > 0 {
			time.Sleep(state.Latency)
		}
		if state.Down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"status":        "ok",
			"success_ratio": state.SuccessRatio,
		})
	})

	// Scripting endpoint: degrade or restore a probe target while the
	// engine runs, e.g.
	//   curl -XPOST localhost:9090/simulate \
	//     -d '{"service":"checkout","region":"eu-west-1","success_ratio":0.2}'
	mux.HandleFunc("POST /simulate", func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Service == "" || req.Region == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sim.set(req.Service, req.Region, probeState{
			SuccessRatio: req.SuccessRatio,
			Latency:      time.Duration(req.LatencyMs) * time.Millisecond,
			Down:         req.Down,
		})
		logger.Printf("scripted %s/%s ratio=%.2f latency=%dms down=%v",
			req.Service, req.Region, req.SuccessRatio, req.LatencyMs, req.Down)
		writeJSON(w, map[string]any{"status": "scripted"})
	})

	// Control-plane endpoints the remediation executor calls.
	mux.HandleFunc("POST /api/v1/dns/records", func(w http.ResponseWriter, r *http.Request) {
		var update dnsUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("dns: %s.%s -> %s", update.Record, update.Zone, update.Target)
		writeJSON(w, map[string]any{"status": "applied"})
	})

	mux.HandleFunc("POST /api/v1/cdn/origins", func(w http.ResponseWriter, r *http.Request) {
		var update cdnUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("cdn: %s -> %s", update.DistributionID, update.Origin)
		writeJSON(w, map[string]any{"status": "applied"})
	})

	mux.HandleFunc("POST /api/v1/scaling/capacity", func(w http.ResponseWriter, r *http.Request) {
		var update capacityUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("scaling: %s %+d", update.Target, update.Delta)
		writeJSON(w, map[string]any{"status": "applied"})
	})

	// Alert webhook sink.
	mux.HandleFunc("POST /hooks/alerts", func(w http.ResponseWriter, r *http.Request) {
		var alert alertPayload
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("alert [%s] %s (%d recommendations)",
			alert.Severity, alert.Message, len(alert.Recommendations))
		writeJSON(w, map[string]any{"status": "received"})
	})

	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
