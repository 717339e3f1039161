// Package guard decides whether a protected view renders, waits or sends the
// user to sign in.
package guard

const DefaultLoginPath = "/login"

type Status struct {
	Loading       bool
	Authenticated bool
}

type Decision int

const (
	Wait Decision = iota
	Redirect
	Render
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// StatusReporter is implemented by session.Manager.
type StatusReporter interface {
	Status() Status
}

// Decide never redirects while the session is still being restored.
func Decide(status Status) Decision {
	if status.Loading {
		return Wait
	}
	if !status.Authenticated {
		return Redirect
	}
	return Render
}

func Evaluate(reporter StatusReporter) Decision {
	if reporter == nil {
		return Redirect
	}
	return Decide(reporter.Status())
}
