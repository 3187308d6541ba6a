/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental management engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env file (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create billing scheduler and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags, overridable via environment (env wins only as flag default):
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: rental.db, env DATABASE_PATH)
           Use ":memory:" for an in-memory database
  -cron    Billing cron spec (default: "24 12 * * *", env BILLING_CRON)
  -billing Enable the daily billing scheduler (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the billing scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/rental.db"

  # Run with in-memory database, billing disabled
  ./server -db=":memory:" -billing=false

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily billing trigger
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/store/sqlite"
)

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	// Flags, with environment-provided defaults
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "rental.db"), "SQLite database path")
	cronSpec := flag.String("cron", envStr("BILLING_CRON", api.DefaultCronSpec), "billing cron spec")
	billingOn := flag.Bool("billing", true, "enable the daily billing scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Billing scheduler
	scheduler := api.NewBillingScheduler(store)
	scheduler.Spec = *cronSpec
	scheduler.Enabled = *billingOn
	scheduler.Start()
	defer scheduler.Stop()

	// Handler and router
	handler := api.NewHandler(store, scheduler)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
