// Mockbackend is a stand-in for a subconverter instance, used to exercise the
// gateway's probes and failover by hand.
//
// Usage:
//
//	go run ./scripts/mockbackend -port 25500 -version "subconverter v0.9.9-7544246 backend"
//
// Endpoints:
//   - GET /version answers with the configured version text
//   - POST /toggle flips the instance between healthy and failing (503)
//   - anything else echoes the request with a generated id
//
// The -delay flag slows every response, which is enough to push an instance
// past the priority probe timeout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type echoResponse struct {
	ID        string `json:"id"`
	Instance  string `json:"instance"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

func main() {
	port := flag.Int("port", 25500, "port to listen on")
	version := flag.String("version", "subconverter v0.9.9-7544246 backend", "text served on /version")
	delay := flag.Duration("delay", 0, "artificial latency added to every response")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.Int("port", *port))
	instance := fmt.Sprintf("mock-%d", *port)

	var failing atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		if failing.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(*version))
	})

	mux.HandleFunc("POST /toggle", func(w http.ResponseWriter, r *http.Request) {
		now := !failing.Load()
		failing.Store(now)
		log.Info("Toggled failure mode", slog.Bool("failing", now))
		fmt.Fprintf(w, "failing=%t\n", now)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		if failing.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}

		resp := echoResponse{
			ID:        uuid.NewString(),
			Instance:  instance,
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: r.Header.Get("X-Request-ID"),
		}
		log.Info("Request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", resp.RequestID))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting mock backend", slog.String("addr", addr), slog.String("version", *version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
