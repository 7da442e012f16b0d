package backoff

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

type Class int

const (
	ClassTransient Class = iota
	ClassUnauthorized
	ClassForbidden
)

func (c Class) String() string {
	switch c {
	case ClassUnauthorized:
		return "unauthorized"
	case ClassForbidden:
		return "forbidden"
	default:
		return "transient"
	}
}

// Classify maps a close status code to its recovery class.
func Classify(statusCode int) Class {
	switch statusCode {
	case 401:
		return ClassUnauthorized
	case 403, 419:
		return ClassForbidden
	default:
		return ClassTransient
	}
}

type Action int

const (
	ActionRetry Action = iota
	ActionReauthenticate
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionReauthenticate:
		return "reauthenticate"
	case ActionFatal:
		return "fatal"
	default:
		return "retry"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

type Policy struct {
	Base     time.Duration
	Step     time.Duration
	Cap      time.Duration
	Budget   int
	Fallback time.Duration

	ReauthDelay time.Duration

	StartupTimeoutDelay time.Duration
	StartupErrorDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Base:                2 * time.Second,
		Step:                time.Second,
		Cap:                 15 * time.Second,
		Budget:              20,
		Fallback:            5 * time.Second,
		ReauthDelay:         3 * time.Second,
		StartupTimeoutDelay: 10 * time.Second,
		StartupErrorDelay:   8 * time.Second,
	}
}

// Delay is min(Base + n*Step, Cap).
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.Base + time.Duration(n)*p.Step
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Next decides what follows a close of the given class, where attempt is the
// reconnect count including this one.
func (p Policy) Next(attempt int, class Class) Decision {
	switch class {
	case ClassUnauthorized:
		return Decision{Action: ActionReauthenticate, Delay: p.ReauthDelay}
	case ClassForbidden:
		return Decision{Action: ActionFatal}
	}
	if attempt > p.Budget {
		return Decision{Action: ActionRetry, Delay: p.Fallback}
	}
	return Decision{Action: ActionRetry, Delay: p.Delay(attempt)}
}

// StartupDelay is the wait before retrying a failed establishment.
func (p Policy) StartupDelay(err error) time.Duration {
	if IsTimeout(err) {
		return p.StartupTimeoutDelay
	}
	return p.StartupErrorDelay
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
