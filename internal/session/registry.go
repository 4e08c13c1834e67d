package session

import (
	"context"
	"sync"
	"time"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/orchestrator"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/quizsync"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

// OrchestratorFactory builds the generation pipeline for a fresh store.
type OrchestratorFactory func(store *storage.Store) *orchestrator.Orchestrator

// Workspace is everything one logged-in user owns. It is discarded on
// logout together with its experiments.
type Workspace struct {
	Username     string
	Store        *storage.Store
	Orchestrator *orchestrator.Orchestrator
	Gate         *Gate

	mu      sync.Mutex
	editors map[string]*quizsync.Editor
}

// Editor returns the quiz editor for an experiment, creating it on first use.
func (w *Workspace) Editor(experimentID string) (*quizsync.Editor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ed, ok := w.editors[experimentID]; ok {
		return ed, nil
	}
	ed, err := quizsync.NewEditor(w.Store, experimentID)
	if err != nil {
		return nil, err
	}
	w.editors[experimentID] = ed
	return ed, nil
}

func (w *Workspace) dropEditor(experimentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.editors, experimentID)
}

type Registry struct {
	mu         sync.Mutex
	verifier   TokenVerifier
	newOrch    OrchestratorFactory
	log        *logger.Logger
	now        func() time.Time
	workspaces map[string]*Workspace
	// logged-out tokens, kept until they expire on their own
	revoked map[string]time.Time
}

func NewRegistry(verifier TokenVerifier, newOrch OrchestratorFactory, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		verifier:   verifier,
		newOrch:    newOrch,
		log:        log.With("component", "session"),
		now:        time.Now,
		workspaces: map[string]*Workspace{},
		revoked:    map[string]time.Time{},
	}
}

// Authenticate resolves a bearer token to its user's workspace, opening one
// if the user has none. Expired sessions are torn down before the lookup.
func (r *Registry) Authenticate(token string) (*Workspace, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}
	info, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, revoked := r.revoked[token]; revoked {
		return nil, &domain.AuthFailure{Message: "Invalid token"}
	}

	ws, ok := r.workspaces[info.Username]
	if ok && ws.Gate.Token() != token {
		if _, err := ws.Gate.Login(token); err != nil {
			return nil, err
		}
	}
	if ok && !ws.Gate.Active(r.now()) {
		delete(r.workspaces, info.Username)
		r.log.Info("session expired", "username", info.Username)
		ok = false
	}
	if !ok {
		ws = r.open(info.Username)
		if _, err := ws.Gate.Login(token); err != nil {
			delete(r.workspaces, info.Username)
			return nil, err
		}
	}
	return ws, nil
}

// Logout ends the user's session and discards their experiments. The
// session token and any extra tokens given stop authenticating until they
// expire.
func (r *Registry) Logout(username string, tokens ...string) {
	r.mu.Lock()
	ws, ok := r.workspaces[username]
	delete(r.workspaces, username)
	if ok {
		tokens = append(tokens, ws.Gate.Token())
	}
	for _, token := range tokens {
		r.revokeLocked(token)
	}
	r.mu.Unlock()

	if ok {
		ws.Gate.Logout()
		r.log.Info("user logged out", "username", username)
	}
}

func (r *Registry) revokeLocked(token string) {
	if token == "" {
		return
	}
	info, err := r.verifier.Verify(token)
	if err != nil {
		// already unusable
		return
	}
	r.revoked[token] = info.ExpiresAt
}

// Sweep logs out every session whose token expired at now.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Workspace
	for name, ws := range r.workspaces {
		if ws.Gate.State() != LoggedIn || !ws.Gate.Active(now) {
			expired = append(expired, ws)
			delete(r.workspaces, name)
		}
	}
	for token, expires := range r.revoked {
		if !expires.IsZero() && !now.Before(expires) {
			delete(r.revoked, token)
		}
	}
	r.mu.Unlock()

	for _, ws := range expired {
		ws.Gate.Logout()
		r.log.Info("session expired", "username", ws.Username)
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Close logs every user out and waits for in-flight generations.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.workspaces))
	for name, ws := range r.workspaces {
		all = append(all, ws)
		delete(r.workspaces, name)
	}
	r.mu.Unlock()

	for _, ws := range all {
		ws.Gate.Logout()
		ws.Orchestrator.Wait()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

func (r *Registry) open(username string) *Workspace {
	store := storage.NewStore()
	ws := &Workspace{
		Username: username,
		Store:    store,
		editors:  map[string]*quizsync.Editor{},
	}
	ws.Orchestrator = r.newOrch(store)
	store.OnDelete(ws.dropEditor)
	ws.Gate = NewGate(r.verifier, func() {
		ws.Orchestrator.Close()
		store.Clear()
	})
	r.workspaces[username] = ws
	r.log.Info("session opened", "username", username)
	return ws
}
