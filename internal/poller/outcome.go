package poller

import (
	"errors"

	"github.com/jpalmerr/zync/internal/deployer"
)

// Kind classifies the result of a status fetch.
type Kind int

const (
	KindRunning Kind = iota
	KindStarting
	KindStopping
	KindError
	KindNotDeployed
	// KindHidden means the challenge allows several instances and this
	// player has no slot left; the deploy affordance is hidden.
	KindHidden
	KindUnauthorized
	KindServerError
	// KindRejected is a 4xx other than 401 and 404.
	KindRejected
	KindNetworkFailure
	// KindUnknown is a 200 whose status is not part of the vocabulary.
	KindUnknown
	// KindCancelled is never rendered.
	KindCancelled
)

var kindNames = [...]string{
	KindRunning:        "running",
	KindStarting:       "starting",
	KindStopping:       "stopping",
	KindError:          "error",
	KindNotDeployed:    "not_deployed",
	KindHidden:         "hidden",
	KindUnauthorized:   "unauthorized",
	KindServerError:    "server_error",
	KindRejected:       "rejected",
	KindNetworkFailure: "network_failure",
	KindUnknown:        "unknown",
	KindCancelled:      "cancelled",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is what a renderer is asked to show.
type Outcome struct {
	Kind Kind

	// Snapshot is set for outcomes coming from a successful fetch.
	Snapshot deployer.Snapshot

	// Message is a human-readable explanation for failure outcomes.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Default messages shown when the deployer gave no explanation.
const (
	MsgDeploymentFailed = "The deployment failed."
	MsgUnauthorized     = "Invalid authentication."
	MsgServerError      = "Deployer server error."
	MsgRejected         = "Request rejected by the deployer."
	MsgNetworkFailure   = "Unable to get the deployment status."
	MsgUnknownStatus    = "Unknown deployment status."
)

// Classify turns the result of a status fetch into an [Outcome].
func Classify(snap deployer.Snapshot, err error) Outcome {
	if err == nil {
		return classifySnapshot(snap)
	}

	out := Outcome{Err: err}

	var (
		authErr     *deployer.AuthError
		notFoundErr *deployer.NotFoundError
		clientErr   *deployer.ClientError
		serverErr   *deployer.ServerError
	)

	switch {
	case deployer.IsCancelled(err):
		out.Kind = KindCancelled
	case errors.As(err, &authErr):
		out.Kind = KindUnauthorized
		out.Message = MsgUnauthorized
	case deployer.IsSlotExhausted(err):
		out.Kind = KindHidden
		out.Message = notFoundMessage(err)
	case errors.As(err, &notFoundErr):
		out.Kind = KindNotDeployed
		out.Snapshot = deployer.Snapshot{Status: deployer.StatusNotDeployed}
	case errors.As(err, &clientErr):
		out.Kind = KindRejected
		out.Message = orDefault(clientErr.Message, MsgRejected)
	case errors.As(err, &serverErr):
		out.Kind = KindServerError
		out.Message = orDefault(serverErr.Message, MsgServerError)
	default:
		// anything else is the fetch itself failing
		out.Kind = KindNetworkFailure
		out.Message = MsgNetworkFailure
	}
	return out
}

func classifySnapshot(snap deployer.Snapshot) Outcome {
	out := Outcome{Snapshot: snap}
	switch snap.Status {
	case deployer.StatusRunning:
		out.Kind = KindRunning
	case deployer.StatusStarting:
		out.Kind = KindStarting
	case deployer.StatusStopping:
		out.Kind = KindStopping
	case deployer.StatusError:
		out.Kind = KindError
		out.Message = orDefault(snap.ConnectionInfo, MsgDeploymentFailed)
	case deployer.StatusNotDeployed:
		out.Kind = KindNotDeployed
	default:
		out.Kind = KindUnknown
		out.Message = MsgUnknownStatus
	}
	return out
}

func notFoundMessage(err error) string {
	var nf *deployer.NotFoundError
	if errors.As(err, &nf) {
		return nf.Message
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
