// Package firebase implements backend.Provider against a live Firebase
// project using only the public client credentials (the web API key and a
// signed-in user's ID token), the same capabilities a browser client has.
//
// Firestore is reached over gRPC with cloud.google.com/go/firestore. Auth,
// callable functions and Storage are reached over their REST APIs.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/firepwn/firepwn/pkg/backend"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Default service endpoints.
const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com"
	DefaultStorageURL         = "https://firebasestorage.googleapis.com"
	DefaultFunctionsRegion    = "us-central1"
)

// ChallengeTokenSource produces a challenge response token for an SMS
// dispatch. Browsers obtain it from a reCAPTCHA widget; a terminal client has
// to ask for one.
type ChallengeTokenSource func(ctx context.Context, anchorID string) (string, error)

// Config configures the Provider.
type Config struct {
	HTTPClient         *http.Client
	IdentityToolkitURL string
	SecureTokenURL     string
	StorageURL         string
	// FunctionsURL, when set, is used instead of the regional
	// cloudfunctions.net host, with the emulator path layout
	// <FunctionsURL>/<project>/<region>/<name>.
	FunctionsURL string
	// FirestoreEmulatorHost is host:port of a Firestore emulator.
	FirestoreEmulatorHost string
	ChallengeTokens       ChallengeTokenSource
	// FirestoreOptions are appended to the Firestore client options.
	FirestoreOptions []option.ClientOption
}

// Option configures a Provider.
type Option func(*Config)

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) {
		cfg.HTTPClient = c
	}
}

// WithIdentityToolkitURL overrides the Identity Toolkit endpoint.
func WithIdentityToolkitURL(u string) Option {
	return func(cfg *Config) {
		cfg.IdentityToolkitURL = strings.TrimSuffix(u, "/")
	}
}

// WithSecureTokenURL overrides the token refresh endpoint.
func WithSecureTokenURL(u string) Option {
	return func(cfg *Config) {
		cfg.SecureTokenURL = strings.TrimSuffix(u, "/")
	}
}

// WithStorageURL overrides the Storage endpoint.
func WithStorageURL(u string) Option {
	return func(cfg *Config) {
		cfg.StorageURL = strings.TrimSuffix(u, "/")
	}
}

// WithFunctionsURL routes functions through an emulator-style base URL.
func WithFunctionsURL(u string) Option {
	return func(cfg *Config) {
		cfg.FunctionsURL = strings.TrimSuffix(u, "/")
	}
}

// WithChallengeTokens sets the source of SMS challenge tokens.
func WithChallengeTokens(src ChallengeTokenSource) Option {
	return func(cfg *Config) {
		cfg.ChallengeTokens = src
	}
}

// WithFirestoreOptions adds client options to the Firestore client.
func WithFirestoreOptions(opts ...option.ClientOption) Option {
	return func(cfg *Config) {
		cfg.FirestoreOptions = append(cfg.FirestoreOptions, opts...)
	}
}

// WithEmulator points every service at a local Firebase emulator suite, with
// the suite's default ports on host. Challenge tokens are not checked by the
// auth emulator, so a fixed token is used.
func WithEmulator(host string) Option {
	return func(cfg *Config) {
		cfg.IdentityToolkitURL = fmt.Sprintf("http://%s:9099/identitytoolkit.googleapis.com", host)
		cfg.SecureTokenURL = fmt.Sprintf("http://%s:9099/securetoken.googleapis.com", host)
		cfg.StorageURL = fmt.Sprintf("http://%s:9199", host)
		cfg.FunctionsURL = fmt.Sprintf("http://%s:5001", host)
		cfg.FirestoreEmulatorHost = fmt.Sprintf("%s:8080", host)
		cfg.ChallengeTokens = func(context.Context, string) (string, error) {
			return "emulator", nil
		}
	}
}

// Provider opens sessions against Firebase projects.
type Provider struct {
	cfg Config
}

// NewProvider creates a Provider.
func NewProvider(opts ...Option) *Provider {
	cfg := Config{
		IdentityToolkitURL: DefaultIdentityToolkitURL,
		SecureTokenURL:     DefaultSecureTokenURL,
		StorageURL:         DefaultStorageURL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Provider{cfg: cfg}
}

// Open implements backend.Provider. It builds clients but performs no
// network call.
func (p *Provider) Open(ctx context.Context, opts backend.Options) (backend.App, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.FunctionsRegion == "" {
		opts.FunctionsRegion = DefaultFunctionsRegion
	}

	s := &session{cfg: &p.cfg, apiKey: opts.APIKey, observers: make(map[int]func(backend.AuthEvent))}

	clientOpts := []option.ClientOption{
		option.WithAPIKey(opts.APIKey),
		option.WithGRPCDialOption(grpc.WithPerRPCCredentials(&idTokenCredentials{s: s, insecure: p.cfg.FirestoreEmulatorHost != ""})),
	}
	if p.cfg.FirestoreEmulatorHost != "" {
		clientOpts = []option.ClientOption{
			option.WithEndpoint(p.cfg.FirestoreEmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithGRPCDialOption(grpc.WithPerRPCCredentials(&idTokenCredentials{s: s, insecure: true})),
		}
	}
	clientOpts = append(clientOpts, p.cfg.FirestoreOptions...)

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &app{opts: opts, session: s, client: client}, nil
}

type app struct {
	opts    backend.Options
	session *session
	client  *firestore.Client
}

func (a *app) Store() backend.Store {
	return &store{client: a.client}
}

func (a *app) Auth() backend.Auth {
	return &auth{s: a.session}
}

func (a *app) Functions() backend.Functions {
	return &functions{s: a.session, projectID: a.opts.ProjectID, region: a.opts.FunctionsRegion}
}

func (a *app) Storage() (backend.Storage, error) {
	bucket := strings.TrimPrefix(strings.TrimSpace(a.opts.StorageBucket), "gs://")
	if bucket == "" {
		return nil, backend.ErrNoBucket
	}
	return &storage{s: a.session, bucket: bucket}, nil
}

func (a *app) Close() error {
	return a.client.Close()
}

// session holds the signed-in user's tokens, shared by every service of an
// App.
type session struct {
	cfg    *Config
	apiKey string

	mu        sync.Mutex
	token     *oauth2.Token
	principal *backend.Principal
	observers map[int]func(backend.AuthEvent)
	nextObs   int
}

// errNoRefreshToken is returned when an expired session cannot be renewed.
var errNoRefreshToken = errors.New("session expired and no refresh token is available")

// idToken returns a valid ID token, refreshing it when it has expired. It
// returns "" when nobody is signed in.
func (s *session) idToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok == nil {
		return "", nil
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", errNoRefreshToken
	}

	fresh, err := s.refresh(ctx, tok.RefreshToken)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.token == tok {
		s.token = fresh
	}
	s.mu.Unlock()
	return fresh.AccessToken, nil
}

// signedIn stores tokens for p and returns the observers to notify.
func (s *session) signedIn(tok *oauth2.Token, p *backend.Principal) []func(backend.AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = tok
	s.principal = p
	return s.observerList()
}

// observerList returns registered observers in registration order.
// s.mu must be held.
func (s *session) observerList() []func(backend.AuthEvent) {
	fns := make([]func(backend.AuthEvent), 0, len(s.observers))
	for id := 1; id <= s.nextObs; id++ {
		if fn, ok := s.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (s *session) identityURL(version, method string) string {
	return fmt.Sprintf("%s/%s/accounts%s?key=%s", s.cfg.IdentityToolkitURL, version, method, s.apiKey)
}

// authHeader returns an Authorization header with the given scheme, or nil
// when nobody is signed in.
func (s *session) authHeader(ctx context.Context, scheme string) (http.Header, error) {
	tok, err := s.idToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, nil
	}
	return http.Header{"Authorization": {scheme + " " + tok}}, nil
}
