// Package backend defines the client-side contract of a backend-as-a-service
// project: a structured document store, an auth service with multi-factor
// sign-in, callable and plain HTTP functions, and blob storage.
//
// The console depends only on these interfaces. pkg/backend/firebase talks to
// a real Firebase project; pkg/backend/memory is an in-process fake.
package backend

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Options carries the connection descriptor handed to Provider.Open.
type Options struct {
	APIKey        string
	AuthDomain    string
	DatabaseURL   string
	ProjectID     string
	StorageBucket string

	// FunctionsRegion selects the functions host region (default us-central1).
	FunctionsRegion string
}

// Provider opens backend sessions.
type Provider interface {
	// Open creates a session for the given project. It does not perform any
	// authenticated call.
	Open(ctx context.Context, opts Options) (App, error)
}

// App is one open session and the service handles derived from it.
type App interface {
	Store() Store
	Auth() Auth
	Functions() Functions
	// Storage returns the blob handle for the configured bucket.
	// It fails when no bucket was configured.
	Storage() (Storage, error)
	Close() error
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter operators accepted by Store.Query.
const (
	OpEqual            = "=="
	OpNotEqual         = "!="
	OpLess             = "<"
	OpLessOrEqual      = "<="
	OpGreater          = ">"
	OpGreaterOrEqual   = ">="
	OpArrayContains    = "array-contains"
	OpArrayContainsAny = "array-contains-any"
	OpIn               = "in"
	OpNotIn            = "not-in"
)

// FilterOperators lists every operator Store.Query accepts.
var FilterOperators = []string{
	OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual,
	OpArrayContains, OpArrayContainsAny, OpIn, OpNotIn,
}

// Filter is a single where clause.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query describes an unscoped collection read.
type Query struct {
	Collection string
	Filter     *Filter
	OrderBy    string
	Direction  Direction
	// Limit caps the result count; 0 means no limit.
	Limit int
}

// Document is a stored document with its id. Data holds JSON-compatible values.
type Document struct {
	ID   string
	Data map[string]any
}

// Store is the structured document store.
type Store interface {
	// Get returns the document or an error matching ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Set replaces the document, or merges into it when merge is true.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	// Add creates a document with a generated id and returns the id.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	// Update merges the given fields into an existing document.
	Update(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]*Document, error)
}

// Principal is an authenticated identity.
type Principal struct {
	Email string
	UID   string
}

// SignInMethod tags how a principal signed in.
type SignInMethod string

const (
	MethodPassword    SignInMethod = "password"
	MethodSignUp      SignInMethod = "signup"
	MethodFederated   SignInMethod = "federated"
	MethodMultiFactor SignInMethod = "multi-factor"
)

// SignInResult is the settled outcome of a sign-in call.
type SignInResult struct {
	Principal Principal
	Method    SignInMethod
}

// AuthEvent is delivered to auth state observers. A nil Principal means no
// user is signed in.
type AuthEvent struct {
	Principal *Principal
	Method    SignInMethod
}

// FactorPhone is the factor id of SMS second factors.
const FactorPhone = "phone"

// MFAHint describes one enrolled second factor.
type MFAHint struct {
	UID         string
	FactorID    string
	DisplayName string
	PhoneNumber string
	EnrolledAt  time.Time
}

// MFAResolver is issued when a sign-in needs a second factor.
type MFAResolver struct {
	Hints []MFAHint
	// Session is the opaque pending-credential token for this challenge.
	Session string
	// Email is the first-factor email, when the backend reports it.
	Email string
}

// ChallengeWidget proves to the backend that an SMS dispatch was requested
// by a human. It is bound to an anchor id and may be reused across challenges.
type ChallengeWidget interface {
	AnchorID() string
	// Token returns a fresh challenge response token.
	Token(ctx context.Context) (string, error)
	// Clear releases the widget. It is not usable afterwards.
	Clear()
}

// Auth is the credential and session service.
type Auth interface {
	// SignInWithPassword signs in. A second-factor requirement is reported as
	// a *MFARequiredError.
	SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error)
	// SignUp creates an account and signs it in.
	SignUp(ctx context.Context, email, password string) (*SignInResult, error)
	// SignInWithIDPToken signs in with an opaque federated OAuth id token.
	SignInWithIDPToken(ctx context.Context, idToken string) (*SignInResult, error)
	SignOut(ctx context.Context) error

	// OnAuthStateChanged registers fn. fn is called once at registration with
	// the current state and again on every sign-in or sign-out.
	OnAuthStateChanged(fn func(AuthEvent)) (unsubscribe func())

	// NewChallengeWidget creates a widget bound to anchorID.
	NewChallengeWidget(anchorID string) (ChallengeWidget, error)
	// SendPhoneChallenge dispatches a one-time code to the hint's phone and
	// returns the verification id.
	SendPhoneChallenge(ctx context.Context, resolver *MFAResolver, hint MFAHint, widget ChallengeWidget) (string, error)
	// ResolveSignIn completes a challenge with a verification id and code.
	ResolveSignIn(ctx context.Context, resolver *MFAResolver, verificationID, code string) (*SignInResult, error)
}

// HTTPResponse is the raw result of a plain HTTP function call.
type HTTPResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Functions invokes remote functions.
type Functions interface {
	// Call invokes a callable function with data and returns its result.
	Call(ctx context.Context, name string, data any) (any, error)
	// HTTP performs a plain HTTP request against a function endpoint.
	HTTP(ctx context.Context, method, name string, query url.Values, body []byte) (*HTTPResponse, error)
	// URL returns the endpoint of the named function.
	URL(name string) string
}

// ListResult holds the direct children of a storage path.
type ListResult struct {
	// Items are full paths of objects.
	Items []string
	// Prefixes are full paths of sub-folders, without trailing slash.
	Prefixes []string
}

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	Bucket         string            `json:"bucket"`
	FullPath       string            `json:"fullPath"`
	Name           string            `json:"name"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"contentType,omitempty"`
	TimeCreated    time.Time         `json:"timeCreated"`
	Updated        time.Time         `json:"updated"`
	MD5Hash        string            `json:"md5Hash,omitempty"`
	Generation     string            `json:"generation,omitempty"`
	Metageneration string            `json:"metageneration,omitempty"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
}

// ProgressFunc receives cumulative upload progress.
type ProgressFunc func(transferred, total int64)

// Storage is the blob storage service for one bucket.
type Storage interface {
	Bucket() string
	// List returns every direct child of path; empty path is the root.
	List(ctx context.Context, path string) (*ListResult, error)
	// Upload stores r at path. progress, if set, is called sequentially.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) (*ObjectMetadata, error)
	DownloadURL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
	Metadata(ctx context.Context, path string) (*ObjectMetadata, error)
}
