package rate

import "time"

// Window is the period a limit applies to.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Declaration names an operation and its call budgets.
type Declaration struct {
	provider string
	limits   map[Window]int
}

// Provider starts a declaration, e.g. Provider("medtrum_login").
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}
