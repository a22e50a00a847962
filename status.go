package zync

import (
	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/poller"
	"github.com/jpalmerr/zync/internal/store"
)

// Status is the deployment state reported by the deployer.
type Status = deployer.Status

const (
	StatusNotDeployed = deployer.StatusNotDeployed
	StatusStarting    = deployer.StatusStarting
	StatusRunning     = deployer.StatusRunning
	StatusStopping    = deployer.StatusStopping
	StatusError       = deployer.StatusError
	StatusUnknown     = deployer.StatusUnknown
)

// Snapshot is the last known state of a deployment: status, connection
// info, expiration time, extensions left.
type Snapshot = deployer.Snapshot

// Outcome is what a [Renderer] is asked to show.
type Outcome = poller.Outcome

// Kind classifies an [Outcome].
type Kind = poller.Kind

const (
	KindRunning        = poller.KindRunning
	KindStarting       = poller.KindStarting
	KindStopping       = poller.KindStopping
	KindError          = poller.KindError
	KindNotDeployed    = poller.KindNotDeployed
	KindHidden         = poller.KindHidden
	KindUnauthorized   = poller.KindUnauthorized
	KindServerError    = poller.KindServerError
	KindRejected       = poller.KindRejected
	KindNetworkFailure = poller.KindNetworkFailure
	KindUnknown        = poller.KindUnknown
	KindCancelled      = poller.KindCancelled
)

// Renderer shows the state of one watched challenge.
//
// # Panic Safety
//
// Renderer methods are called within a panic recovery boundary. A panic is
// logged with a correlation ID and the session keeps going.
type Renderer = poller.Renderer

// Policy holds the polling delays. Zero fields keep their defaults.
type Policy = poller.Policy

// DefaultPolicy returns the usual cadence: 2s for transitional states, 10s
// for errors, a 1s countdown and a 600ms follow-up after expiry.
func DefaultPolicy() Policy {
	return poller.DefaultPolicy()
}

// Row is one challenge line of the admin dashboard.
type Row = store.Row

// DeploymentError is one entry of the deployer's error list.
type DeploymentError = deployer.ErrorEntry

// TeamDeployment is one deployment of the deployer's team list.
type TeamDeployment = deployer.TeamDeployment
