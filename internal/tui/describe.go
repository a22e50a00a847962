package tui

import (
	"fmt"

	"github.com/jpalmerr/zync/internal/poller"
)

// Label is the short status text of an outcome kind.
func Label(k poller.Kind) string {
	switch k {
	case poller.KindRunning:
		return "Running"
	case poller.KindStarting:
		return "Deploying..."
	case poller.KindStopping:
		return "Stopping..."
	case poller.KindError:
		return "Deployment failed"
	case poller.KindNotDeployed:
		return "Not deployed"
	case poller.KindHidden:
		return "No instance available"
	case poller.KindUnauthorized:
		return "Unauthorized"
	case poller.KindServerError:
		return "Server error"
	case poller.KindRejected:
		return "Rejected"
	case poller.KindNetworkFailure:
		return "Network error"
	default:
		return "Unknown"
	}
}

// Describe renders an outcome as one line of plain text.
func Describe(o poller.Outcome) string {
	line := Label(o.Kind)
	switch {
	case o.Kind == poller.KindRunning && o.Snapshot.ConnectionInfo != "":
		line += ": " + o.Snapshot.ConnectionInfo
	case o.Message != "":
		line += ": " + o.Message
	}
	if o.Kind == poller.KindRunning && o.Snapshot.ExtensionsLeft != nil && *o.Snapshot.ExtensionsLeft >= 0 {
		line += fmt.Sprintf(" (%d extensions left)", *o.Snapshot.ExtensionsLeft)
	}
	return line
}
