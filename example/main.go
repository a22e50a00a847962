// Command example runs a mock deployer and the zync admin dashboard on top
// of it, plus a player watcher logging its deployment.
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jpalmerr/zync"
	"github.com/jpalmerr/zync/example/mockdeployer"
)

// logRenderer prints every outcome of the player's watcher.
type logRenderer struct{}

func (logRenderer) Loading() {}

func (logRenderer) Render(o zync.Outcome) {
	slog.Info("player view", "outcome", o.Kind.String(), "connection", o.Snapshot.ConnectionInfo, "message", o.Message)
}

func (logRenderer) TimeLeft(string) {}

// playerToken signs a team token, the way the platform would.
func playerToken(ch zync.Challenge) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		team := "42"
		claims := jwt.MapClaims{
			"user_id":        "7",
			"team_id":        team,
			"role":           "user",
			"challenge_name": ch.Name(),
			"category":       ch.Category(),
			"exp":            time.Now().Add(time.Hour).Unix(),
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(demoSecret))
	}
}

func main() {
	mock := mockdeployer.New(demoSecret, demoChallenges, demoExtra, mockdeployer.DefaultTimings(), slog.Default())
	go func() {
		if err := http.ListenAndServe(":9999", mock.Handler()); err != nil {
			slog.Error("mock deployer error", "error", err)
			os.Exit(1)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the player side: watch web/login and deploy it
	login, err := zync.NewChallenge("web", "login")
	if err != nil {
		slog.Error("failed to create challenge", "error", err)
		os.Exit(1)
	}
	w, err := zync.NewWatcher(login, logRenderer{},
		zync.WithDeployerURL("http://localhost:9999"),
		zync.WithTokenFunc(playerToken(login)),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}
	defer w.Close()
	w.Open(ctx)
	if err := w.Deploy(ctx); err != nil {
		slog.Warn("player deploy failed", "error", err)
	}

	// the admin side
	d, err := zync.NewDashboard(
		zync.WithTitle("Demo CTF"),
		zync.WithDeployerURL("http://localhost:9999"),
		zync.WithSigningSecret(demoSecret),
		zync.WithPort(8080),
		zync.WithPolicy(zync.Policy{ShortInterval: time.Second}),
	)
	if err != nil {
		slog.Error("failed to create dashboard", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   zync Demo                                           ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Mock deployer on :9999 (secret: demo-secret)        ║")
	fmt.Println("  ║   • 4 challenges, pwn/stack-smash fails 30% of runs   ║")
	fmt.Println("  ║   • Reload adds pwn/heap-feng-shui                    ║")
	fmt.Println("  ║   • Team 42 deploys web/login                         ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	if err := d.Start(ctx); err != nil {
		slog.Error("dashboard error", "error", err)
		os.Exit(1)
	}
}
