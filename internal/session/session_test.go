package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/orchestrator"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/quizsync"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/services"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

type fakeVerifier map[string]services.TokenInfo

func (f fakeVerifier) Verify(token string) (services.TokenInfo, error) {
	info, ok := f[token]
	if !ok {
		return services.TokenInfo{}, &domain.AuthFailure{Message: "Invalid token"}
	}
	return info, nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateQuiz(context.Context, string) (domain.QuizData, error) {
	return domain.NewQuizData([]domain.QuizQuestion{domain.BlankQuestion(1)}), nil
}

func (stubGenerator) GenerateContent(context.Context, string) (domain.GeneratedText, error) {
	return domain.GeneratedText{Aim: "A"}, nil
}

func newRegistry(v fakeVerifier) *Registry {
	return NewRegistry(v, func(store *storage.Store) *orchestrator.Orchestrator {
		return orchestrator.New(store, stubGenerator{}, stubGenerator{}, orchestrator.Options{IllustrationDelay: time.Hour}, logger.Nop(), nil)
	}, logger.Nop())
}

func TestGateLoginLogout(t *testing.T) {
	v := fakeVerifier{"tok": {UserID: "1", Username: "ada", ExpiresAt: time.Now().Add(time.Hour)}}
	store := storage.NewStore()
	store.Create("E1")

	gate := NewGate(v, store.Clear)
	require.Equal(t, LoggedOut, gate.State())

	_, err := gate.Login("bad")
	require.True(t, domain.IsAuthFailure(err))
	require.Equal(t, LoggedOut, gate.State())

	info, err := gate.Login("tok")
	require.NoError(t, err)
	require.Equal(t, "ada", info.Username)
	require.Equal(t, LoggedIn, gate.State())
	require.True(t, gate.Active(time.Now()))

	gate.Logout()
	require.Equal(t, LoggedOut, gate.State())
	require.Zero(t, store.Len(), "logout clears the experiment store")
	require.Empty(t, gate.Token())
}

func TestGateExpiresEagerly(t *testing.T) {
	expires := time.Now().Add(time.Minute)
	v := fakeVerifier{"tok": {Username: "ada", ExpiresAt: expires}}
	cleared := 0
	gate := NewGate(v, func() { cleared++ })

	_, err := gate.Login("tok")
	require.NoError(t, err)

	require.True(t, gate.Active(expires.Add(-time.Second)))
	require.False(t, gate.Active(expires))
	require.Equal(t, LoggedOut, gate.State())

	require.False(t, gate.Active(expires))
	require.Equal(t, 1, cleared, "logout hooks run once")
}

func TestGateKeepsLaterExpiry(t *testing.T) {
	now := time.Now()
	v := fakeVerifier{
		"old": {Username: "ada", ExpiresAt: now.Add(time.Minute)},
		"new": {Username: "ada", ExpiresAt: now.Add(time.Hour)},
		"bob": {Username: "bob", ExpiresAt: now.Add(time.Hour)},
	}
	gate := NewGate(v)

	_, err := gate.Login("new")
	require.NoError(t, err)
	_, err = gate.Login("old")
	require.NoError(t, err)
	require.Equal(t, "new", gate.Token())

	_, err = gate.Login("bob")
	require.True(t, domain.IsAuthFailure(err))
}

func TestRegistryReusesWorkspacePerUser(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	v := fakeVerifier{
		"a1": {Username: "ada", ExpiresAt: exp},
		"a2": {Username: "ada", ExpiresAt: exp.Add(time.Minute)},
		"b1": {Username: "bob", ExpiresAt: exp},
	}
	reg := newRegistry(v)
	t.Cleanup(reg.Close)

	ada, err := reg.Authenticate("a1")
	require.NoError(t, err)
	ada.Store.Create("mine")

	again, err := reg.Authenticate("a2")
	require.NoError(t, err)
	require.Same(t, ada, again)
	require.Equal(t, 1, again.Store.Len())

	bob, err := reg.Authenticate("b1")
	require.NoError(t, err)
	require.NotSame(t, ada, bob)
	require.Zero(t, bob.Store.Len())
	require.Equal(t, 2, reg.Len())

	_, err = reg.Authenticate("")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = reg.Authenticate("forged")
	require.True(t, domain.IsAuthFailure(err))
}

func TestRegistryLogoutDiscardsExperiments(t *testing.T) {
	v := fakeVerifier{
		"a1": {Username: "ada", ExpiresAt: time.Now().Add(time.Hour)},
		"a2": {Username: "ada", ExpiresAt: time.Now().Add(2 * time.Hour)},
	}
	reg := newRegistry(v)
	t.Cleanup(reg.Close)

	ws, err := reg.Authenticate("a1")
	require.NoError(t, err)
	exp := ws.Store.Create("E1")
	require.NoError(t, ws.Orchestrator.Generate(context.Background(), exp.ID, "light"))

	reg.Logout("ada")
	require.Zero(t, ws.Store.Len())
	require.Equal(t, LoggedOut, ws.Gate.State())
	require.ErrorIs(t, ws.Orchestrator.Start(exp.ID, "light"), orchestrator.ErrClosed)

	_, err = reg.Authenticate("a1")
	require.True(t, domain.IsAuthFailure(err), "a logged-out token must not reopen a session")
	require.Zero(t, reg.Len())

	fresh, err := reg.Authenticate("a2")
	require.NoError(t, err)
	require.NotSame(t, ws, fresh)
	require.Zero(t, fresh.Store.Len())
}

func TestRevokedTokensArePrunedAfterExpiry(t *testing.T) {
	now := time.Now()
	v := fakeVerifier{"a1": {Username: "ada", ExpiresAt: now.Add(time.Minute)}}
	reg := newRegistry(v)
	t.Cleanup(reg.Close)

	_, err := reg.Authenticate("a1")
	require.NoError(t, err)
	reg.Logout("ada", "a1")
	require.Len(t, reg.revoked, 1)

	reg.Sweep(now.Add(30 * time.Second))
	require.Len(t, reg.revoked, 1)
	reg.Sweep(now.Add(2 * time.Minute))
	require.Empty(t, reg.revoked)
}

func TestRegistrySweepExpiresSessions(t *testing.T) {
	now := time.Now()
	v := fakeVerifier{
		"short": {Username: "ada", ExpiresAt: now.Add(time.Minute)},
		"long":  {Username: "bob", ExpiresAt: now.Add(time.Hour)},
	}
	reg := newRegistry(v)
	t.Cleanup(reg.Close)

	ada, err := reg.Authenticate("short")
	require.NoError(t, err)
	ada.Store.Create("E1")
	_, err = reg.Authenticate("long")
	require.NoError(t, err)

	require.Equal(t, 1, reg.Sweep(now.Add(2*time.Minute)))
	require.Equal(t, 1, reg.Len())
	require.Zero(t, ada.Store.Len())
}

func TestWorkspaceEditorLifecycle(t *testing.T) {
	v := fakeVerifier{
		"a1": {Username: "ada", ExpiresAt: time.Now().Add(time.Hour)},
		"a2": {Username: "ada", ExpiresAt: time.Now().Add(2 * time.Hour)},
	}
	reg := newRegistry(v)
	t.Cleanup(reg.Close)

	ws, err := reg.Authenticate("a1")
	require.NoError(t, err)

	_, err = ws.Editor("missing")
	require.True(t, errors.Is(err, domain.ErrNotFound))

	exp := ws.Store.Create("E1")
	ed, err := ws.Editor(exp.ID)
	require.NoError(t, err)
	same, err := ws.Editor(exp.ID)
	require.NoError(t, err)
	require.Same(t, ed, same)

	_, id, err := ed.AddQuestion()
	require.NoError(t, err)
	require.Equal(t, 1, id)
	_, err = ed.SetQuestionField(id, quizsync.FieldQuestion, "Why?")
	require.NoError(t, err)

	require.NoError(t, ws.Store.Delete(exp.ID))
	ws.mu.Lock()
	_, kept := ws.editors[exp.ID]
	ws.mu.Unlock()
	require.False(t, kept)
}
