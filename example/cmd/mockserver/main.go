// Standalone mock city API for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pulsesync serve -c example/config.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/pulsesync/example/mockcity"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	tick := flag.Duration("tick", 2*time.Second, "how often values drift")
	flag.Parse()

	fmt.Printf("Mock city API starting on %s\n", *addr)
	fmt.Println("Routes: /api/traffic/ /api/health/ /api/get_stations /api/citizen/")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockcity.New(*tick).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock server failed", "error", err)
		os.Exit(1)
	}
}
