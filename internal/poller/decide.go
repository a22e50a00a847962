package poller

import "time"

// Policy holds the delays used by a session.
type Policy struct {
	// ShortInterval is the delay before re-polling a starting or stopping
	// deployment.
	ShortInterval time.Duration

	// LongInterval is the delay before re-polling a deployment in error,
	// and before retrying a failed follow-up poll.
	LongInterval time.Duration

	// CountdownTick is the refresh period of the time-left display.
	CountdownTick time.Duration

	// ExpiryFollowUp is the delay between the countdown reaching zero and
	// the status fetch that picks up the post-expiry state.
	ExpiryFollowUp time.Duration
}

// DefaultPolicy returns the deployer's usual cadence.
func DefaultPolicy() Policy {
	return Policy{
		ShortInterval:  2 * time.Second,
		LongInterval:   10 * time.Second,
		CountdownTick:  time.Second,
		ExpiryFollowUp: 600 * time.Millisecond,
	}
}

// withDefaults fills zero fields from [DefaultPolicy].
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.ShortInterval <= 0 {
		p.ShortInterval = def.ShortInterval
	}
	if p.LongInterval <= 0 {
		p.LongInterval = def.LongInterval
	}
	if p.CountdownTick <= 0 {
		p.CountdownTick = def.CountdownTick
	}
	if p.ExpiryFollowUp <= 0 {
		p.ExpiryFollowUp = def.ExpiryFollowUp
	}
	return p
}

// Action is the decision taken for one outcome.
type Action struct {
	// Render is false only for cancelled fetches.
	Render bool

	// Next is the delay before the next poll; zero means polling stops.
	Next time.Duration

	// Countdown starts the time-left ticker.
	Countdown bool
}

// Decide is the session transition function.
//
// retrying is true when the fetch was a self-scheduled follow-up; in that
// context server and network failures are retried on the long interval
// instead of ending the session. This differs from the CTFd plugin's
// player view, which stops polling on any 5xx even while a deployment is
// starting or stopping. A standalone fetch (Start, Poll, the post-expiry
// follow-up) still treats them as terminal.
func Decide(o Outcome, retrying bool, p Policy) Action {
	switch o.Kind {
	case KindCancelled:
		return Action{}
	case KindRunning:
		return Action{Render: true, Countdown: o.Snapshot.ExpirationTime != nil}
	case KindStarting, KindStopping:
		return Action{Render: true, Next: p.ShortInterval}
	case KindError:
		return Action{Render: true, Next: p.LongInterval}
	case KindServerError, KindNetworkFailure:
		a := Action{Render: true}
		if retrying {
			a.Next = p.LongInterval
		}
		return a
	default:
		return Action{Render: true}
	}
}
