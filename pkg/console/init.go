package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/config"
)

// Initialize validates d, opens the backend session and registers the auth
// state observer. It succeeds at most once per Console.
//
// Unlike other entry points Initialize runs synchronously: opening a session
// performs no authenticated call.
func (c *Console) Initialize(ctx context.Context, d config.Descriptor) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.session().initialized {
		return c.reject(SubsystemInit, "initialize", "Firebase already initialized", ErrAlreadyInitialized)
	}
	if c.provider == nil {
		return c.reject(SubsystemInit, "initialize", "Firebase SDK not loaded. Please check your connection.", ErrNoProvider)
	}
	if err := d.Validate(); err != nil {
		msg := "Invalid configuration: " + strings.ReplaceAll(err.Error(), "\n", ", ")
		return c.reject(SubsystemInit, "initialize", msg, &ValidationError{Message: msg, Err: err})
	}

	app, err := c.provider.Open(ctx, backend.Options{
		APIKey:          d.APIKey,
		AuthDomain:      d.AuthDomain,
		DatabaseURL:     d.DatabaseURL,
		ProjectID:       d.ProjectID,
		StorageBucket:   d.Bucket(),
		FunctionsRegion: c.opts.functionsRegion,
	})
	if err != nil {
		return c.reject(SubsystemInit, "initialize", "Error: "+err.Error(), fmt.Errorf("open session: %w", err))
	}

	d.StorageBucket = d.Bucket()
	sess := Session{
		descriptor: d,
		app:        app,
		store:      app.Store(),
		auth:       app.Auth(),
		functions:  app.Functions(),
	}

	if d.HasBucket() {
		storage, err := app.Storage()
		if err != nil {
			_ = app.Close()
			return c.reject(SubsystemInit, "initialize", "Error: "+err.Error(), fmt.Errorf("open storage: %w", err))
		}
		sess.storage = storage
		c.log.Success("Storage service initialized with bucket: " + d.Bucket())
	} else {
		c.log.Info("Storage service not initialized (no storageBucket provided)")
	}

	// The observer fires once at registration; it only touches principal,
	// so the handles are published after it is in place.
	unsubscribe := sess.auth.OnAuthStateChanged(c.onAuthStateChanged)

	c.mu.Lock()
	sess.principal = c.sess.principal
	sess.initialized = true
	c.sess = sess
	c.unsubscribeAuth = unsubscribe
	c.mu.Unlock()

	c.log.Success("Firebase initialized")
	return nil
}

// onAuthStateChanged is the single auth observer of the session.
func (c *Console) onAuthStateChanged(ev backend.AuthEvent) {
	if ev.Principal == nil {
		c.mu.Lock()
		c.sess.principal = nil
		c.mu.Unlock()
		return
	}

	p := *ev.Principal
	c.mu.Lock()
	c.sess.principal = &p
	c.mu.Unlock()

	c.log.Success(signInMessage(ev.Method, p))
}

func signInMessage(method backend.SignInMethod, p backend.Principal) string {
	email := p.Email
	if email == "" {
		email = "unknown"
	}
	switch method {
	case backend.MethodFederated:
		return "Logged in via federated sign-in"
	case backend.MethodMultiFactor:
		return fmt.Sprintf("Logged in with second factor (%s)", email)
	default:
		return fmt.Sprintf("Logged in (%s)", email)
	}
}

// AuthState is the position of the session in the sign-in state machine.
type AuthState string

const (
	StateAnonymous        AuthState = "anonymous"
	StateAuthenticating   AuthState = "authenticating"
	StateChallengePending AuthState = "challenge-pending"
	StateAuthenticated    AuthState = "authenticated"
)

// Snapshot is a point-in-time copy of the session state, safe to display.
type Snapshot struct {
	Initialized bool
	// Descriptor has its API key masked.
	Descriptor       config.Descriptor
	HasStorage       bool
	Principal        *backend.Principal
	Auth             AuthState
	ChallengePending bool
	CodeSent         bool
}

// State returns a snapshot of the session.
func (c *Console) State() Snapshot {
	sess := c.session()

	snap := Snapshot{
		Initialized: sess.initialized,
		Descriptor:  sess.descriptor.Redacted(),
		HasStorage:  sess.storage != nil,
	}
	if sess.principal != nil {
		p := *sess.principal
		snap.Principal = &p
	}

	c.authMu.Lock()
	if c.challenge != nil {
		snap.ChallengePending = true
		snap.CodeSent = c.challenge.verificationID != ""
	}
	c.authMu.Unlock()

	switch {
	case snap.ChallengePending:
		snap.Auth = StateChallengePending
	case snap.Principal != nil:
		snap.Auth = StateAuthenticated
	case c.signingIn.Load() > 0:
		snap.Auth = StateAuthenticating
	default:
		snap.Auth = StateAnonymous
	}
	return snap
}
