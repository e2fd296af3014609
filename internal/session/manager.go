// Package session owns the client-side view of who is signed in: the current
// identity, its profile, and whether that pair is still being resolved.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"go.uber.org/zap"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateLoading       State = "loading"
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

const (
	opManagerNew = "session.manager.new"
	opSignUp     = "session.sign_up"
	opLogIn      = "session.log_in"
	opLogOut     = "session.log_out"
	opRefresh    = "session.refresh_profile"
	opWait       = "session.wait"

	defaultResolveTimeout = 10 * time.Second
)

var (
	errMissingAuthClient = errors.New("auth client is required")
	errMissingProfiles   = errors.New("profile store is required")
	errManagerClosed     = errors.New("session manager closed")
)

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State    State
	Identity *auth.Identity
	Profile  *profiles.Profile
}

// Authenticated reports whether an identity with a resolved profile is present.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Identity != nil && s.Profile != nil
}

// IsAdmin reports whether the resolved profile carries the admin role.
func (s Snapshot) IsAdmin() bool {
	return s.Authenticated() && s.Profile.IsAdmin()
}

// AuthClient is the credential client driving the session.
type AuthClient interface {
	CreateIdentity(ctx context.Context, email string, password string) (auth.Identity, error)
	Authenticate(ctx context.Context, email string, password string) (auth.Identity, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler auth.StateHandler) func()
}

// ProfileStore resolves application profiles.
type ProfileStore interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
	Ensure(ctx context.Context, id string, email string) (profiles.Profile, error)
}

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Auth           AuthClient
	Profiles       ProfileStore
	Logger         *zap.Logger
	ResolveTimeout time.Duration
}

// Manager tracks the session. Every state change happens on one goroutine,
// and each auth notification triggers exactly one profile resolution.
type Manager struct {
	auth           AuthClient
	profiles       ProfileStore
	logger         *zap.Logger
	resolveTimeout time.Duration

	commands chan command
	quit     chan struct{}
	done     chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	dispose  func()

	mu        sync.RWMutex
	snapshot  Snapshot
	changed   chan struct{}
	watchers  map[int64]*watcher
	nextWatch int64

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

type commandKind int

const (
	commandAuthChanged commandKind = iota
	commandRefresh
)

type command struct {
	kind     commandKind
	identity *auth.Identity
	reply    chan error
}

type watcher struct {
	fn     func(Snapshot)
	active atomic.Bool
}

// NewManager constructs a Manager and subscribes it to auth state changes.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Auth == nil {
		return nil, apperr.New(apperr.KindInvalid, opManagerNew, "missing_auth", "", errMissingAuthClient)
	}
	if cfg.Profiles == nil {
		return nil, apperr.New(apperr.KindInvalid, opManagerNew, "missing_profiles", "", errMissingProfiles)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolveTimeout := cfg.ResolveTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = defaultResolveTimeout
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		auth:           cfg.Auth,
		profiles:       cfg.Profiles,
		logger:         logger,
		resolveTimeout: resolveTimeout,
		commands:       make(chan command),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		baseCtx:        baseCtx,
		cancel:         cancel,
		snapshot:       Snapshot{State: StateLoading},
		changed:        make(chan struct{}),
		watchers:       make(map[int64]*watcher),
		ready:          make(chan struct{}),
	}
	go m.run()
	m.dispose = cfg.Auth.OnAuthStateChange(m.enqueueAuthChange)
	return m, nil
}

// SignUp creates an identity and its default profile, then waits until the
// session reflects the new identity.
func (m *Manager) SignUp(ctx context.Context, email string, password string) (auth.Identity, error) {
	identity, err := m.auth.CreateIdentity(ctx, email, password)
	if err != nil {
		return auth.Identity{}, providerError(opSignUp, err)
	}
	if _, err := m.profiles.Ensure(ctx, identity.ID, identity.Email); err != nil {
		m.logger.Warn("profile creation after sign up failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err))
	}
	if _, err := m.waitFor(ctx, opSignUp, signedInAs(identity.ID)); err != nil {
		return identity, err
	}
	return identity, nil
}

// LogIn authenticates and waits until the session reflects the identity.
func (m *Manager) LogIn(ctx context.Context, email string, password string) (auth.Identity, error) {
	identity, err := m.auth.Authenticate(ctx, email, password)
	if err != nil {
		return auth.Identity{}, providerError(opLogIn, err)
	}
	if _, err := m.waitFor(ctx, opLogIn, signedInAs(identity.ID)); err != nil {
		return identity, err
	}
	return identity, nil
}

// LogOut signs out and waits until the session is anonymous.
func (m *Manager) LogOut(ctx context.Context) error {
	if err := m.auth.SignOut(ctx); err != nil {
		return apperr.Backend(opLogOut, "sign_out_failed", err)
	}
	_, err := m.waitFor(ctx, opLogOut, func(s Snapshot) bool { return s.State == StateAnonymous })
	return err
}

// CurrentProfile returns the resolved profile, if any.
func (m *Manager) CurrentProfile() (profiles.Profile, bool) {
	snapshot := m.Snapshot()
	if !snapshot.Authenticated() {
		return profiles.Profile{}, false
	}
	return *snapshot.Profile, true
}

// RefreshProfile re-reads the profile of the current identity.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case m.commands <- command{kind: commandRefresh, reply: reply}:
	case <-m.quit:
		return apperr.Backend(opRefresh, "closed", errManagerClosed)
	case <-ctx.Done():
		return apperr.Backend(opRefresh, "cancelled", ctx.Err())
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return apperr.Backend(opRefresh, "cancelled", ctx.Err())
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	return m.Snapshot().State
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Watch calls fn after every state change, on the manager goroutine, until
// the returned function runs. fn must not call blocking Manager methods.
func (m *Manager) Watch(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	w := &watcher{fn: fn}
	w.active.Store(true)
	m.mu.Lock()
	m.nextWatch++
	watchID := m.nextWatch
	m.watchers[watchID] = w
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, watchID)
			m.mu.Unlock()
			w.active.Store(false)
		})
	}
}

// WaitReady blocks until the first auth notification has been resolved.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return apperr.Backend(opWait, "cancelled", ctx.Err())
	}
}

// Close unsubscribes from auth changes and stops the manager goroutine.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.dispose != nil {
			m.dispose()
		}
		close(m.quit)
		m.cancel()
		<-m.done
	})
}

func (m *Manager) enqueueAuthChange(identity *auth.Identity) {
	select {
	case m.commands <- command{kind: commandAuthChanged, identity: identity}:
	case <-m.quit:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case cmd := <-m.commands:
			switch cmd.kind {
			case commandAuthChanged:
				m.handleAuthChange(cmd.identity)
			case commandRefresh:
				cmd.reply <- m.handleRefresh()
			}
		}
	}
}

func (m *Manager) handleAuthChange(identity *auth.Identity) {
	if identity == nil {
		m.publish(Snapshot{State: StateAnonymous})
		return
	}
	current := *identity
	m.publish(Snapshot{State: StateLoading, Identity: &current})

	ctx, cancel := context.WithTimeout(m.baseCtx, m.resolveTimeout)
	defer cancel()
	profile := m.resolveProfile(ctx, current)
	m.publish(Snapshot{State: StateAuthenticated, Identity: &current, Profile: &profile})
}

// resolveProfile fetches the profile, creating it when absent. When the store
// cannot produce one, a default user profile is synthesized and not persisted.
func (m *Manager) resolveProfile(ctx context.Context, identity auth.Identity) profiles.Profile {
	profile, err := m.profiles.Get(ctx, identity.ID)
	if err == nil {
		metrics.ProfileResolutions.WithLabelValues("found").Inc()
		return profile
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		m.logger.Warn("profile lookup failed", zap.String("identity_id", identity.ID), zap.Error(err))
	}

	profile, err = m.profiles.Ensure(ctx, identity.ID, identity.Email)
	if err == nil {
		metrics.ProfileResolutions.WithLabelValues("created").Inc()
		return profile
	}
	m.logger.Error("profile creation failed, using default profile",
		zap.String("identity_id", identity.ID),
		zap.Error(err))
	metrics.ProfileResolutions.WithLabelValues("synthesized").Inc()
	return profiles.Synthesize(identity.ID, identity.Email)
}

func (m *Manager) handleRefresh() error {
	snapshot := m.Snapshot()
	if snapshot.Identity == nil {
		return nil
	}
	current := *snapshot.Identity

	ctx, cancel := context.WithTimeout(m.baseCtx, m.resolveTimeout)
	defer cancel()
	profile, err := m.profiles.Get(ctx, current.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		profile, err = m.profiles.Ensure(ctx, current.ID, current.Email)
	}
	if err != nil {
		return err
	}
	m.publish(Snapshot{State: StateAuthenticated, Identity: &current, Profile: &profile})
	return nil
}

// publish hands next to watchers before Snapshot and waiters can observe it.
func (m *Manager) publish(next Snapshot) {
	m.mu.RLock()
	watchers := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		if w.active.Load() {
			w.fn(next)
		}
	}

	m.mu.Lock()
	m.snapshot = next
	previous := m.changed
	m.changed = make(chan struct{})
	m.mu.Unlock()

	close(previous)
	if next.State != StateLoading {
		m.readyOnce.Do(func() { close(m.ready) })
	}
}

func (m *Manager) waitFor(ctx context.Context, operation string, matches func(Snapshot) bool) (Snapshot, error) {
	for {
		m.mu.RLock()
		snapshot, changed := m.snapshot, m.changed
		m.mu.RUnlock()
		if matches(snapshot) {
			return snapshot, nil
		}
		select {
		case <-changed:
		case <-m.quit:
			return snapshot, apperr.Backend(operation, "closed", errManagerClosed)
		case <-ctx.Done():
			return snapshot, apperr.Backend(operation, "cancelled", ctx.Err())
		}
	}
}

func signedInAs(identityID string) func(Snapshot) bool {
	return func(s Snapshot) bool {
		return s.State == StateAuthenticated && s.Identity != nil && s.Identity.ID == identityID
	}
}

func providerError(operation string, err error) error {
	if auth.IsRejection(err) {
		return apperr.New(apperr.KindAuth, operation, "rejected", err.Error(), err)
	}
	return apperr.Backend(operation, "provider_failed", err)
}
