package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	authmodels "paybook/internal/auth/models"
	bankmodels "paybook/internal/banking/models"
	"paybook/internal/platform/logger"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
)

type fakeBackend struct {
	mu           sync.Mutex
	users        map[string]*User
	expired      map[string]bool
	balance      decimal.Decimal
	events       chan authmodels.SessionEvent
	signInTTL    time.Duration
	rotations    int
	currentCalls atomic.Int32
	refreshCalls atomic.Int32
	gate         chan struct{}

	profileGate    chan struct{}
	gatedToken     string
	profileEntered chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:   map[string]*User{"tok-jane": {ID: id.NewUserID(), Email: "jane@example.com"}},
		expired: map[string]bool{},
		balance: decimal.NewFromInt(50000),
		events:  make(chan authmodels.SessionEvent, 4),
	}
}

// gateProfile holds Profile calls for token until release is closed.
func (f *fakeBackend) gateProfile(token string) (entered <-chan struct{}, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gatedToken = token
	f.profileGate = make(chan struct{})
	f.profileEntered = make(chan struct{}, 1)
	return f.profileEntered, f.profileGate
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (*Credentials, error) {
	if email != "jane@example.com" || password != "secret1" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	creds := &Credentials{AccessToken: "tok-jane", User: *f.users["tok-jane"]}
	if f.signInTTL > 0 {
		creds.ExpiresAt = time.Now().Add(f.signInTTL)
	}
	return creds, nil
}

func (f *fakeBackend) SignUp(_ context.Context, in SignUpInput) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &User{ID: id.NewUserID(), Email: in.Email}
	f.users["tok-new"] = u
	return &Credentials{AccessToken: "tok-new", User: *u}, nil
}

func (f *fakeBackend) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, token)
	return nil
}

// Refresh moves the session to a new token; the old one stops working.
func (f *fakeBackend) Refresh(_ context.Context, token string) (*Credentials, error) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session is no longer active")
	}
	f.rotations++
	next := fmt.Sprintf("tok-jane-r%d", f.rotations)
	delete(f.users, token)
	delete(f.expired, token)
	f.users[next] = u
	return &Credentials{AccessToken: next, ExpiresAt: time.Now().Add(15 * time.Minute), User: *u}, nil
}

func (f *fakeBackend) CurrentUser(_ context.Context, token string) (*User, error) {
	f.currentCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[token] {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	}
	u, ok := f.users[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session is no longer active")
	}
	clone := *u
	return &clone, nil
}

func (f *fakeBackend) Profile(_ context.Context, token string) (*bankmodels.Account, error) {
	f.mu.Lock()
	gate, entered := f.profileGate, f.profileEntered
	if token != f.gatedToken {
		gate = nil
	}
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session is no longer active")
	}
	return &bankmodels.Account{ID: u.ID, FullName: "Jane", Balance: f.balance}, nil
}

func (f *fakeBackend) Events(_ context.Context, _ string) (<-chan authmodels.SessionEvent, func(), error) {
	return f.events, func() {}, nil
}

type ContextSuite struct {
	suite.Suite
	backend *fakeBackend
	tokens  *MemoryTokenStore
	session *Context
}

func TestContextSuite(t *testing.T) {
	suite.Run(t, new(ContextSuite))
}

func (s *ContextSuite) SetupTest() {
	s.backend = newFakeBackend()
	s.tokens = NewMemoryTokenStore(Token{})
	s.session = New(s.backend, s.tokens, logger.Discard())
}

func (s *ContextSuite) TestRestore() {
	ctx := context.Background()

	s.Run("loading until restored", func() {
		s.Equal(StatusLoading, s.session.State().Status)
		select {
		case <-s.session.Ready():
			s.Fail("ready before restore")
		default:
		}
	})

	s.Run("no saved token means anonymous", func() {
		s.Require().NoError(s.session.Restore(ctx))
		s.Equal(StatusAnonymous, s.session.State().Status)
		<-s.session.Ready()
	})

	s.Run("saved token restores the profile", func() {
		restored := New(s.backend, NewMemoryTokenStore(Token{AccessToken: "tok-jane"}), logger.Discard())
		s.Require().NoError(restored.Restore(ctx))
		state := restored.State()
		s.True(state.SignedIn())
		s.Equal("jane@example.com", state.User.Email)
		s.True(state.Profile.Balance.Equal(decimal.NewFromInt(50000)))
	})

	s.Run("stale token is dropped", func() {
		s.backend.refreshCalls.Store(0)
		store := NewMemoryTokenStore(Token{AccessToken: "tok-gone"})
		restored := New(s.backend, store, logger.Discard())
		s.Require().NoError(restored.Restore(ctx))
		s.Equal(StatusAnonymous, restored.State().Status)
		s.Equal(int32(1), s.backend.refreshCalls.Load(), "one exchange is tried before giving up")
		token, _ := store.Load(ctx)
		s.Empty(token.AccessToken)
	})
}

func (s *ContextSuite) TestSignInAndOut() {
	ctx := context.Background()
	s.Require().NoError(s.session.Restore(ctx))
	states, cancel := s.session.Subscribe()
	defer cancel()

	err := s.session.SignIn(ctx, "jane@example.com", "wrong")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.False(s.session.State().SignedIn())

	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))
	s.True((<-states).SignedIn())
	token, _ := s.tokens.Load(ctx)
	s.Equal("tok-jane", token.AccessToken)

	s.Require().NoError(s.session.SignOut(ctx))
	s.Equal(StatusAnonymous, (<-states).Status)
	s.Empty(s.session.Token())
}

func (s *ContextSuite) TestSignUp() {
	ctx := context.Background()
	s.Require().NoError(s.session.SignUp(ctx, SignUpInput{Email: "new@example.com", Password: "secret1"}))
	s.Equal("new@example.com", s.session.State().User.Email)
}

func (s *ContextSuite) TestRunFollowsEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))

	done := make(chan error, 1)
	go func() { done <- s.session.Run(ctx) }()

	states, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	s.backend.mu.Lock()
	s.backend.balance = decimal.NewFromInt(100)
	s.backend.mu.Unlock()
	s.backend.events <- authmodels.SessionEvent{Type: authmodels.EventTokenRefreshed}
	state := <-states
	s.True(state.Profile.Balance.Equal(decimal.NewFromInt(100)))

	s.backend.events <- authmodels.SessionEvent{Type: authmodels.EventSignedOut}
	state = <-states
	s.True(state.SignedIn(), "another device signing out leaves this session alone")

	s.backend.mu.Lock()
	delete(s.backend.users, "tok-jane")
	s.backend.mu.Unlock()
	s.backend.events <- authmodels.SessionEvent{Type: authmodels.EventSessionRevoked}
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("Run did not stop after revocation")
	}
	s.Equal(StatusAnonymous, s.session.State().Status)
}

func (s *ContextSuite) TestOverlappingResolutionsShareOneCall() {
	ctx := context.Background()
	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))
	s.backend.currentCalls.Store(0)
	s.backend.gate = make(chan struct{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.session.RefreshProfile(ctx)
		}()
	}
	s.Eventually(func() bool { return s.backend.currentCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(s.backend.gate)
	wg.Wait()

	s.Equal(int32(1), s.backend.currentCalls.Load())
	s.True(s.session.State().SignedIn())
}

func (s *ContextSuite) TestSignOutDuringResolution() {
	ctx := context.Background()
	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))

	entered, release := s.backend.gateProfile("tok-jane")
	done := make(chan error, 1)
	go func() { done <- s.session.RefreshProfile(ctx) }()
	<-entered

	s.Require().NoError(s.session.SignOut(ctx))
	close(release)
	s.Require().NoError(<-done)

	s.Equal(StatusAnonymous, s.session.State().Status, "a late profile read must not bring the session back")
	s.Empty(s.session.Token())
	stored, _ := s.tokens.Load(ctx)
	s.Empty(stored.AccessToken)
}

func (s *ContextSuite) TestSignUpDuringResolution() {
	ctx := context.Background()
	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))

	entered, release := s.backend.gateProfile("tok-jane")
	done := make(chan error, 1)
	go func() { done <- s.session.RefreshProfile(ctx) }()
	<-entered

	s.Require().NoError(s.session.SignUp(ctx, SignUpInput{Email: "new@example.com", Password: "secret1"}))
	s.Equal("new@example.com", s.session.State().User.Email, "sign-up resolves its own token")

	close(release)
	s.Require().NoError(<-done)
	s.Equal("new@example.com", s.session.State().User.Email)
	s.Equal("tok-new", s.session.Token())
}

func (s *ContextSuite) TestTokenRefresh() {
	ctx := context.Background()

	s.Run("token close to expiry is rotated on restore", func() {
		backend := newFakeBackend()
		store := NewMemoryTokenStore(Token{AccessToken: "tok-jane", ExpiresAt: time.Now().Add(30 * time.Second)})
		restored := New(backend, store, logger.Discard())
		s.Require().NoError(restored.Restore(ctx))

		s.True(restored.State().SignedIn())
		s.Equal(int32(1), backend.refreshCalls.Load())
		s.Equal("tok-jane-r1", restored.Token())
		saved, _ := store.Load(ctx)
		s.Equal("tok-jane-r1", saved.AccessToken)
		s.True(saved.ExpiresAt.After(time.Now().Add(10*time.Minute)), "rotated expiry is saved")
	})

	s.Run("token far from expiry is kept", func() {
		backend := newFakeBackend()
		restored := New(backend, NewMemoryTokenStore(Token{AccessToken: "tok-jane", ExpiresAt: time.Now().Add(time.Hour)}), logger.Discard())
		s.Require().NoError(restored.Restore(ctx))
		s.Equal(int32(0), backend.refreshCalls.Load())
		s.Equal("tok-jane", restored.Token())
	})

	s.Run("expired token is exchanged once after a 401", func() {
		backend := newFakeBackend()
		backend.expired["tok-jane"] = true
		store := NewMemoryTokenStore(Token{AccessToken: "tok-jane"})
		restored := New(backend, store, logger.Discard())
		s.Require().NoError(restored.Restore(ctx))

		s.True(restored.State().SignedIn())
		s.Equal(int32(1), backend.refreshCalls.Load())
		s.Equal("tok-jane-r1", restored.Token())
		saved, _ := store.Load(ctx)
		s.Equal("tok-jane-r1", saved.AccessToken)
	})

	s.Run("token rotated by another process is taken over", func() {
		backend := newFakeBackend()
		store := NewMemoryTokenStore(Token{AccessToken: "tok-jane"})
		sc := New(backend, store, logger.Discard())
		s.Require().NoError(sc.Restore(ctx))

		creds, err := backend.Refresh(ctx, "tok-jane")
		s.Require().NoError(err)
		s.Require().NoError(store.Save(ctx, creds.Token()))

		s.Require().NoError(sc.RefreshProfile(ctx))
		s.True(sc.State().SignedIn())
		s.Equal(creds.AccessToken, sc.Token())
		s.Equal(int32(1), backend.refreshCalls.Load(), "the stale token is not exchanged again")
	})
}

func (s *ContextSuite) TestRunRenewsToken() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.backend.signInTTL = refreshLeeway + 100*time.Millisecond
	s.Require().NoError(s.session.SignIn(ctx, "jane@example.com", "secret1"))
	s.Require().Equal(int32(0), s.backend.refreshCalls.Load())

	done := make(chan error, 1)
	go func() { done <- s.session.Run(ctx) }()

	s.Eventually(func() bool { return s.session.Token() == "tok-jane-r1" }, 2*time.Second, 10*time.Millisecond)
	s.True(s.session.State().SignedIn())
	saved, _ := s.tokens.Load(ctx)
	s.Equal("tok-jane-r1", saved.AccessToken)

	cancel()
	s.NoError(<-done)
}

func TestFileTokenStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileTokenStore(path)

	token, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token.AccessToken)

	expiresAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, Token{AccessToken: "abc", ExpiresAt: expiresAt}))
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token.AccessToken)
	assert.True(t, expiresAt.Equal(token.ExpiresAt))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token.AccessToken)
}

func TestFileTokenStoreReadsTokenWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"legacy"}`), 0o600))

	token, err := NewFileTokenStore(path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", token.AccessToken)
	assert.True(t, token.ExpiresAt.IsZero())
}
