// ABOUTME: Minimal fake target for E2E testing — serves a work endpoint and a reply receiver.
// ABOUTME: Usage: fake-target [-addr localhost:9091] [-fail N]

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:9091", "listen address")
	fail := flag.Int64("fail", 0, "number of initial work requests to fail with 500")
	flag.Parse()

	if err := run(*addr, *fail); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, fail int64) error {
	var calls atomic.Int64

	mux := http.NewServeMux()

	// Work endpoint: echoes the request body back, optionally failing
	// the first -fail requests so requeue behavior can be observed.
	mux.HandleFunc("/work", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		log.Printf("work call %d: %s %d bytes", n, r.Method, len(body))

		if n <= fail {
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"call":%d,"echo":%q}`, n, string(body))
	})

	// Reply receiver: logs the delivered result and its activity id.
	mux.HandleFunc("/reply", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Printf("reply for %s: %s", r.Header.Get("X-TaskId"), string(body))
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("fake target listening on %s (failing first %d work calls)", addr, fail)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
