package sectorcontrol

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

var (
	server *http.Server
)

// StartServer exposes the read-only status API for UI consumers. All
// handlers serve snapshots; nothing on this surface mutates tracker state.
func StartServer(m *Monitor) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth(m))
	mux.HandleFunc("/api/state", handleState(m))
	mux.HandleFunc("/api/sectors", handleSectors(m))
	mux.HandleFunc("/api/history", handleHistory(m))

	addr := fmt.Sprintf(":%d", Config.Server.Port)
	server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("server listening on %s", addr)
}

// ShutdownServer drains and stops the status server, if one is running.
func ShutdownServer() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		} else {
			log.Printf("server shut down successfully")
		}
	}
}
