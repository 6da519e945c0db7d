package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
	"github.com/deusflow/newsflow/internal/modelcache"
)

// startMonitoring serves /health and /metrics for liveness probes and
// operators. The server runs until Shutdown is called.
func startMonitoring(addr string, models *modelcache.Cache) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := metrics.Global.GetStats()
		healthy, _ := stats["is_healthy"].(bool)

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, map[string]interface{}{
			"status":   statusWord(healthy),
			"last_run": stats["last_run_time"],
		})
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		stats := metrics.Global.GetStats()
		cache := models.Stats()
		stats["models_resident"] = cache.Loaded
		stats["model_cache_hits"] = cache.Hits
		stats["model_cache_misses"] = cache.Misses
		stats["model_cache_evictions"] = cache.Evictions

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, stats)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server failed", "error", err)
		}
	}()

	return srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode monitoring response", "error", err)
	}
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
