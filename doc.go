// Package zync is a client for an on-demand challenge deployer: players
// start, extend and stop their own instance of a CTF challenge, and admins
// follow and drive every challenge from a web dashboard.
//
// The heart of the package is the deployment status poller. Each watched
// challenge has one polling session that fetches the status, renders it,
// and decides when to fetch again: quickly while a deployment is starting
// or stopping, slowly after an error, never once the state is terminal.
// A running deployment gets a per-second countdown and one last poll when
// it expires.
//
// # Quick Start
//
// Follow one challenge as a player:
//
//	ch, _ := zync.NewChallenge("web", "blog", zync.WithChallengeID(12))
//	w, _ := zync.NewWatcher(ch, renderer,
//	    zync.WithPlatform("https://ctf.example.com"),
//	    zync.WithSession(os.Getenv("CTFD_SESSION")),
//	)
//
//	w.Open(ctx)
//	defer w.Close()
//	w.Deploy(ctx)
//
// Serve the admin dashboard:
//
//	d, _ := zync.NewDashboard(
//	    zync.WithPlatform("https://ctf.example.com"),
//	    zync.WithSession(os.Getenv("CTFD_SESSION")),
//	    zync.WithPort(8080),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	d.Start(ctx) // blocks until context is cancelled
//
// # Tokens
//
// The deployer authenticates every call with a short-lived bearer token.
// Tokens are requested from the CTF platform and cached until their exp
// claim passes. A deployer 401 drops the cached token. [WithTokenFunc]
// replaces the platform, and [WithSigningSecret] lets the dashboard sign
// admin tokens itself.
//
// # Architecture
//
// zync consists of several internal packages (under internal/):
//
//   - internal/poller: Polling session state machine and outcome classification
//   - internal/deployer: Deployer HTTP API client with typed errors
//   - internal/token: Token cache, platform client and local signer
//   - internal/store: In-memory dashboard rows with pub/sub for live updates
//   - internal/server: HTTP server with REST API, Server-Sent Events and WebSocket
//   - internal/tui: Terminal renderer for the watch command
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package zync
