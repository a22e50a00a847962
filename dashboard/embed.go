// Package dashboard provides the embedded web UI of the zync admin
// dashboard.
//
// The page lists every challenge with its live status, offers the per-row
// and bulk deploy and terminate actions, and shows the deployer's error and
// team lists. It follows updates over the WebSocket stream and falls back
// to Server-Sent Events.
//
// The embedded assets are served by the server package at the root path ("/").
// Users of the zync library should not need to interact with this package
// directly.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
