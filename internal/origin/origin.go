// Package origin matches request Origin headers against configured glob
// patterns such as "https://*.example.com" or "http://localhost:*".
package origin

import (
	"fmt"
	"net/http"

	"github.com/gobwas/glob"
)

type Matcher struct {
	patterns []glob.Glob
}

// NewMatcher compiles patterns. With no patterns every origin is allowed.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid origin pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// AllowAll reports whether no restriction is configured.
func (m *Matcher) AllowAll() bool {
	return len(m.patterns) == 0
}

func (m *Matcher) Match(origin string) bool {
	if m.AllowAll() {
		return true
	}
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// CheckOrigin fits websocket.Upgrader.CheckOrigin. Requests without an
// Origin header are not browser requests and are allowed.
func (m *Matcher) CheckOrigin(r *http.Request) bool {
	o := r.Header.Get("Origin")
	return o == "" || m.Match(o)
}
