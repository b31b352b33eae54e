package fetcher

import (
	"math/rand/v2"
	"sync/atomic"
)

// DefaultUserAgent is used when no user agents are configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Agents holds the active User-Agent shared by every in-flight fetch.
// Rotation is last-writer-wins: concurrent rotations only affect which
// fingerprint a request carries, never correctness.
type Agents struct {
	list    []string
	pick    func(n int) int
	current atomic.Pointer[string]
}

// NewAgents picks the initial agent at random from list.
func NewAgents(list []string) *Agents {
	return newAgents(list, rand.IntN)
}

func newAgents(list []string, pick func(n int) int) *Agents {
	cleaned := make([]string, 0, len(list))
	for _, ua := range list {
		if ua != "" {
			cleaned = append(cleaned, ua)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultUserAgent}
	}
	a := &Agents{list: cleaned, pick: pick}
	a.Rotate()
	return a
}

// Current returns the active User-Agent.
func (a *Agents) Current() string {
	if ua := a.current.Load(); ua != nil {
		return *ua
	}
	return DefaultUserAgent
}

// Rotate replaces the active User-Agent with a random entry and returns it.
func (a *Agents) Rotate() string {
	ua := a.list[a.pick(len(a.list))]
	a.current.Store(&ua)
	return ua
}
