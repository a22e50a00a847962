// Standalone mock deployer for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockdeployer
//
// Then in another terminal:
//
//	go run ./cmd/zync dashboard -c example/zync.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/zync/example/mockdeployer"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	secret := flag.String("secret", "demo-secret", "token signing secret")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	mock := mockdeployer.New(*secret,
		[]mockdeployer.Challenge{
			{Category: "crypto", ChallengeName: "rsa-101"},
			{Category: "pwn", ChallengeName: "stack-smash", FailRate: 0.3},
			{Category: "web", ChallengeName: "login"},
		},
		[]mockdeployer.Challenge{
			{Category: "pwn", ChallengeName: "heap-feng-shui"},
		},
		mockdeployer.DefaultTimings(),
		logger,
	)

	fmt.Printf("Mock deployer starting on %s\n", *addr)
	fmt.Println("Instances go: starting → running → stopping")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := http.ListenAndServe(*addr, mock.Handler()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
