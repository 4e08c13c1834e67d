// Package session tracks who is logged in and owns each user's in-memory
// workspace for the lifetime of their login.
package session

import (
	"sync"
	"time"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/services"
)

type TokenVerifier interface {
	Verify(token string) (services.TokenInfo, error)
}

type State int

const (
	LoggedOut State = iota
	LoggedIn
)

func (s State) String() string {
	if s == LoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// Gate is a two-state login machine. Leaving LoggedIn runs the logout hooks
// exactly once.
type Gate struct {
	mu       sync.Mutex
	verifier TokenVerifier
	state    State
	token    string
	info     services.TokenInfo
	onLogout []func()
}

func NewGate(verifier TokenVerifier, onLogout ...func()) *Gate {
	return &Gate{verifier: verifier, onLogout: onLogout}
}

// Login verifies token and moves the gate to LoggedIn. Logging in again
// with a newer token for the same user extends the session.
func (g *Gate) Login(token string) (services.TokenInfo, error) {
	info, err := g.verifier.Verify(token)
	if err != nil {
		return services.TokenInfo{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == LoggedIn && g.info.Username != info.Username {
		return services.TokenInfo{}, &domain.AuthFailure{Message: "Invalid token"}
	}
	if g.state == LoggedIn && info.ExpiresAt.Before(g.info.ExpiresAt) {
		// an older token is still valid; keep the later expiry
		return info, nil
	}
	g.state = LoggedIn
	g.token = token
	g.info = info
	return info, nil
}

func (g *Gate) Logout() {
	g.mu.Lock()
	if g.state == LoggedOut {
		g.mu.Unlock()
		return
	}
	g.state = LoggedOut
	g.token = ""
	g.info = services.TokenInfo{}
	hooks := append([]func(){}, g.onLogout...)
	g.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// Active reports whether the gate is logged in at now. A token past its
// expiry logs the gate out on the spot.
func (g *Gate) Active(now time.Time) bool {
	g.mu.Lock()
	state := g.state
	expires := g.info.ExpiresAt
	g.mu.Unlock()

	if state != LoggedIn {
		return false
	}
	if !expires.IsZero() && !now.Before(expires) {
		g.Logout()
		return false
	}
	return true
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

func (g *Gate) Info() services.TokenInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}
