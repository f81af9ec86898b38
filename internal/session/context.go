package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	bankmodels "paybook/internal/banking/models"
	dErrors "paybook/pkg/domain-errors"
)

const (
	// refreshLeeway is how long before expiry a token is rotated.
	refreshLeeway = time.Minute
	// refreshRetry spaces out renewal attempts that keep failing.
	refreshRetry = 5 * time.Second
)

type Status string

const (
	StatusLoading       Status = "loading"
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
)

// State is an immutable snapshot. Profile may be nil while signed in when
// the profile read failed.
type State struct {
	Status  Status
	User    *User
	Profile *bankmodels.Account
}

func (s State) SignedIn() bool { return s.Status == StatusAuthenticated }

// Context is the process-wide session holder. It is the only writer of the
// session state; any number of goroutines may read or subscribe.
//
// Every sign-in, sign-up, sign-out and restore starts a new generation. A
// resolution only commits while its generation is current, so a slow round
// trip for an old token can never overwrite a newer session.
type Context struct {
	backend Backend
	tokens  TokenStore
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state State
	token Token
	gen   uint64

	ready     chan struct{}
	readyOnce sync.Once
	resolving singleflight.Group

	subsMu sync.Mutex
	subs   map[int]chan State
	nextID int
}

func New(backend Backend, tokens TokenStore, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		backend: backend,
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
		state:   State{Status: StatusLoading},
		ready:   make(chan struct{}),
		subs:    make(map[int]chan State),
	}
}

// Ready is closed once Restore has resolved the initial state.
func (c *Context) Ready() <-chan struct{} { return c.ready }

func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Token returns the current access token, empty when anonymous.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token.AccessToken
}

// Subscribe delivers every state change. A slow reader only sees the latest
// snapshot.
func (c *Context) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.subsMu.Lock()
	key := c.nextID
	c.nextID++
	c.subs[key] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, key)
			c.subsMu.Unlock()
			close(ch)
		})
	}
}

// Restore loads the persisted token and resolves it against the backend,
// rotating it first when it is about to expire. Ready is closed even when
// resolution fails; the state is then anonymous.
func (c *Context) Restore(ctx context.Context) error {
	defer c.readyOnce.Do(func() { close(c.ready) })

	token, err := c.tokens.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "could not load saved session", "error", err)
	}
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.token = token
	c.mu.Unlock()

	if err := c.resolve(ctx); err != nil {
		if c.State().Status == StatusLoading {
			c.commit(gen, State{Status: StatusAnonymous})
		}
		return err
	}
	return nil
}

// Run follows the backend's session events until ctx is cancelled or the
// stream ends, and rotates the token shortly before it expires. It returns
// immediately when nobody is signed in.
func (c *Context) Run(ctx context.Context) error {
	token := c.Token()
	if token == "" {
		return nil
	}
	events, cancel, err := c.backend.Events(ctx, token)
	if err != nil {
		return err
	}
	defer cancel()

	renew := c.renewal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-renew:
			if err := c.resolve(ctx); err != nil {
				c.logger.WarnContext(ctx, "session renewal failed", "error", err)
			}
			if !c.State().SignedIn() {
				return nil
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			c.logger.DebugContext(ctx, "session event", "type", string(event.Type))
			// Events cover every session of the user; only the backend knows
			// whether this one survived.
			if err := c.resolve(ctx); err != nil {
				c.logger.WarnContext(ctx, "session re-resolution failed", "error", err)
			}
			if event.EndsSession() && !c.State().SignedIn() {
				return nil
			}
		}
		renew = c.renewal()
	}
}

// renewal fires when the current token is due for rotation. It is nil when
// the expiry is unknown.
func (c *Context) renewal() <-chan time.Time {
	c.mu.RLock()
	expiresAt := c.token.ExpiresAt
	c.mu.RUnlock()
	if expiresAt.IsZero() {
		return nil
	}
	wait := expiresAt.Add(-refreshLeeway).Sub(c.now())
	if wait <= 0 {
		wait = refreshRetry
	}
	return time.After(wait)
}

// SignIn fails with CodeUnauthorized on bad credentials.
func (c *Context) SignIn(ctx context.Context, email, password string) error {
	creds, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	return c.adopt(ctx, creds)
}

// SignUp registers, provisions and signs in.
func (c *Context) SignUp(ctx context.Context, in SignUpInput) error {
	creds, err := c.backend.SignUp(ctx, in)
	if err != nil {
		return err
	}
	return c.adopt(ctx, creds)
}

// SignOut invalidates the session remotely and drops the local copy. A
// token the backend no longer accepts is dropped all the same.
func (c *Context) SignOut(ctx context.Context) error {
	if token := c.Token(); token != "" {
		if err := c.backend.SignOut(ctx, token); err != nil && !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			return err
		}
	}
	c.mu.Lock()
	c.clearLocked(ctx)
	c.mu.Unlock()
	return nil
}

// RefreshProfile re-reads the account profile, e.g. after a transfer.
func (c *Context) RefreshProfile(ctx context.Context) error {
	return c.resolve(ctx)
}

func (c *Context) adopt(ctx context.Context, creds *Credentials) error {
	c.mu.Lock()
	c.gen++
	c.token = creds.Token()
	c.persistLocked(ctx)
	c.mu.Unlock()
	return c.resolve(ctx)
}

// clearIf drops the session only if it is still generation gen.
func (c *Context) clearIf(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.clearLocked(ctx)
	}
}

func (c *Context) clearLocked(ctx context.Context) {
	c.gen++
	c.token = Token{}
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "could not clear saved session", "error", err)
	}
	c.publishLocked(State{Status: StatusAnonymous})
}

func (c *Context) persistLocked(ctx context.Context) {
	if err := c.tokens.Save(ctx, c.token); err != nil {
		c.logger.WarnContext(ctx, "could not persist session", "error", err)
	}
}

// resolve derives the state from the current token. Overlapping calls within
// one generation share one backend round trip.
func (c *Context) resolve(ctx context.Context) error {
	c.mu.RLock()
	token, gen := c.token, c.gen
	c.mu.RUnlock()

	_, err, _ := c.resolving.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, c.resolveToken(ctx, token, gen)
	})
	return err
}

func (c *Context) resolveToken(ctx context.Context, token Token, gen uint64) error {
	if token.AccessToken == "" {
		c.commit(gen, State{Status: StatusAnonymous})
		return nil
	}

	refreshed := false
	if c.dueForRefresh(token) {
		fresh, err := c.refresh(ctx, token, gen)
		switch {
		case err == nil:
			token, refreshed = fresh, true
		case dErrors.HasCode(err, dErrors.CodeUnauthorized):
			c.clearIf(ctx, gen)
			return nil
		case errors.Is(err, errSuperseded):
			return nil
		default:
			c.logger.WarnContext(ctx, "token refresh failed, keeping current token", "error", err)
		}
	}

	user, err := c.backend.CurrentUser(ctx, token.AccessToken)
	if dErrors.HasCode(err, dErrors.CodeUnauthorized) && !refreshed {
		// The token may only have expired; one exchange decides.
		fresh, rerr := c.refresh(ctx, token, gen)
		if errors.Is(rerr, errSuperseded) {
			return nil
		}
		if rerr == nil {
			token = fresh
			user, err = c.backend.CurrentUser(ctx, token.AccessToken)
		}
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			c.clearIf(ctx, gen)
			return nil
		}
		return err
	}

	profile, err := c.backend.Profile(ctx, token.AccessToken)
	if err != nil {
		c.logger.WarnContext(ctx, "could not load profile", "user_id", user.ID.String(), "error", err)
		profile = nil
	}
	c.commit(gen, State{Status: StatusAuthenticated, User: user, Profile: profile})
	return nil
}

var errSuperseded = errors.New("session superseded")

func (c *Context) dueForRefresh(token Token) bool {
	return !token.ExpiresAt.IsZero() && !c.now().Add(refreshLeeway).Before(token.ExpiresAt)
}

// refresh rotates token and persists the new one, unless the session moved
// on to another generation meanwhile. A usable token saved by another process
// sharing the store is taken over instead; exchanging the old one again would
// look like token reuse to the backend.
func (c *Context) refresh(ctx context.Context, token Token, gen uint64) (Token, error) {
	if stored, err := c.tokens.Load(ctx); err == nil && stored.AccessToken != "" &&
		stored.AccessToken != token.AccessToken && !c.dueForRefresh(stored) {
		return c.takeToken(ctx, gen, stored, false)
	}
	creds, err := c.backend.Refresh(ctx, token.AccessToken)
	if err != nil {
		return Token{}, err
	}
	c.logger.DebugContext(ctx, "access token rotated", "expires_at", creds.ExpiresAt)
	return c.takeToken(ctx, gen, creds.Token(), true)
}

func (c *Context) takeToken(ctx context.Context, gen uint64, token Token, persist bool) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return Token{}, errSuperseded
	}
	c.token = token
	if persist {
		c.persistLocked(ctx)
	}
	return token, nil
}

// commit publishes s if gen is still the current generation.
func (c *Context) commit(gen uint64, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.publishLocked(s)
	}
}

// publishLocked stores s and notifies subscribers. Holding c.mu keeps
// notifications in state order.
func (c *Context) publishLocked(s State) {
	c.state = s

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
