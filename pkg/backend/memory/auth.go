package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/firepwn/firepwn/pkg/backend"
)

// AddUser registers a password account and returns its uid.
func (b *Backend) AddUser(email, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUser(email, password).uid
}

// addUser creates or replaces an account. b.mu must be held.
func (b *Backend) addUser(email, password string) *user {
	u := &user{uid: fmt.Sprintf("uid-%d", len(b.users)+1), email: email, password: password}
	b.users[email] = u
	return u
}

// EnrollFactor adds a second factor to an existing account. factorID is
// usually backend.FactorPhone.
func (b *Backend) EnrollFactor(email, factorID, phoneNumber, displayName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.users[email]
	if !ok {
		return fmt.Errorf("unknown user %q", email)
	}
	u.factors = append(u.factors, backend.MFAHint{
		UID:         fmt.Sprintf("factor-%d", len(u.factors)+1),
		FactorID:    factorID,
		DisplayName: displayName,
		PhoneNumber: phoneNumber,
		EnrolledAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	return nil
}

// AddIDPToken makes idToken a valid federated credential for email. The
// account is created on first use.
func (b *Backend) AddIDPToken(idToken, email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idpTokens[idToken] = email
}

// SetSMSCode sets the code delivered by subsequent phone challenges.
func (b *Backend) SetSMSCode(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.smsCode = code
}

// ExpireCodes marks every outstanding verification as expired.
func (b *Backend) ExpireCodes() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.verifs {
		v.expired = true
	}
}

// SentCodes returns the one-time codes dispatched so far.
func (b *Backend) SentCodes() []SentCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentCode(nil), b.sent...)
}

// Widgets returns every challenge widget created so far.
func (b *Backend) Widgets() []*Widget {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Widget(nil), b.widgets...)
}

// CurrentUser returns the signed-in principal, or nil.
func (b *Backend) CurrentUser() *backend.Principal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	p := *b.current
	return &p
}

// setCurrent changes the signed-in principal and returns the observers to
// notify. b.mu must be held; observers must be called after it is released.
func (b *Backend) setCurrent(p *backend.Principal) []func(backend.AuthEvent) {
	b.current = p

	ids := make([]int, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]func(backend.AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.observers[id])
	}
	return fns
}

func notify(fns []func(backend.AuthEvent), ev backend.AuthEvent) {
	for _, fn := range fns {
		fn(ev)
	}
}

// Widget is the in-memory challenge widget.
type Widget struct {
	mu      sync.Mutex
	anchor  string
	tokens  int
	cleared bool
}

func (w *Widget) AnchorID() string { return w.anchor }

func (w *Widget) Token(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cleared {
		return "", errors.New("reCAPTCHA client element has been removed")
	}
	w.tokens++
	return fmt.Sprintf("challenge-token-%d", w.tokens), nil
}

func (w *Widget) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleared = true
}

// Cleared reports whether Clear was called.
func (w *Widget) Cleared() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleared
}

type auth struct {
	b *Backend
}

func authError(code string) *backend.Error {
	return backend.NewError(code, "Firebase: Error (%s).", code)
}

func (a *auth) SignInWithPassword(ctx context.Context, email, password string) (*backend.SignInResult, error) {
	a.b.mu.Lock()

	if err := a.b.enter("Auth.SignInWithPassword"); err != nil {
		a.b.mu.Unlock()
		return nil, err
	}

	u, ok := a.b.users[email]
	switch {
	case !ok:
		a.b.mu.Unlock()
		return nil, authError(backend.CodeUserNotFound)
	case u.password != password:
		a.b.mu.Unlock()
		return nil, authError(backend.CodeWrongPassword)
	case len(u.factors) > 0:
		a.b.nextSession++
		session := fmt.Sprintf("mfa-session-%d", a.b.nextSession)
		a.b.pending[session] = email
		resolver := &backend.MFAResolver{
			Hints:   append([]backend.MFAHint(nil), u.factors...),
			Session: session,
			Email:   email,
		}
		a.b.mu.Unlock()
		return nil, &backend.MFARequiredError{Resolver: resolver}
	}

	p := backend.Principal{Email: u.email, UID: u.uid}
	fns := a.b.setCurrent(&p)
	a.b.mu.Unlock()

	notify(fns, backend.AuthEvent{Principal: &p, Method: backend.MethodPassword})
	return &backend.SignInResult{Principal: p, Method: backend.MethodPassword}, nil
}

func (a *auth) SignUp(ctx context.Context, email, password string) (*backend.SignInResult, error) {
	a.b.mu.Lock()

	if err := a.b.enter("Auth.SignUp"); err != nil {
		a.b.mu.Unlock()
		return nil, err
	}
	if _, exists := a.b.users[email]; exists {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeEmailExists)
	}
	if len(password) < 6 {
		a.b.mu.Unlock()
		return nil, backend.NewError("auth/weak-password",
			"Firebase: Password should be at least 6 characters (auth/weak-password).")
	}

	u := a.b.addUser(email, password)
	p := backend.Principal{Email: u.email, UID: u.uid}
	fns := a.b.setCurrent(&p)
	a.b.mu.Unlock()

	notify(fns, backend.AuthEvent{Principal: &p, Method: backend.MethodSignUp})
	return &backend.SignInResult{Principal: p, Method: backend.MethodSignUp}, nil
}

func (a *auth) SignInWithIDPToken(ctx context.Context, idToken string) (*backend.SignInResult, error) {
	a.b.mu.Lock()

	if err := a.b.enter("Auth.SignInWithIDPToken"); err != nil {
		a.b.mu.Unlock()
		return nil, err
	}
	email, ok := a.b.idpTokens[idToken]
	if !ok {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeInvalidCredential)
	}
	u, ok := a.b.users[email]
	if !ok {
		u = a.b.addUser(email, "")
	}

	p := backend.Principal{Email: u.email, UID: u.uid}
	fns := a.b.setCurrent(&p)
	a.b.mu.Unlock()

	notify(fns, backend.AuthEvent{Principal: &p, Method: backend.MethodFederated})
	return &backend.SignInResult{Principal: p, Method: backend.MethodFederated}, nil
}

func (a *auth) SignOut(ctx context.Context) error {
	a.b.mu.Lock()

	if err := a.b.enter("Auth.SignOut"); err != nil {
		a.b.mu.Unlock()
		return err
	}
	fns := a.b.setCurrent(nil)
	a.b.mu.Unlock()

	notify(fns, backend.AuthEvent{})
	return nil
}

func (a *auth) OnAuthStateChanged(fn func(backend.AuthEvent)) func() {
	a.b.mu.Lock()
	a.b.nextObs++
	id := a.b.nextObs
	a.b.observers[id] = fn

	var ev backend.AuthEvent
	if a.b.current != nil {
		p := *a.b.current
		ev = backend.AuthEvent{Principal: &p, Method: backend.MethodPassword}
	}
	a.b.mu.Unlock()

	fn(ev)

	return func() {
		a.b.mu.Lock()
		defer a.b.mu.Unlock()
		delete(a.b.observers, id)
	}
}

func (a *auth) NewChallengeWidget(anchorID string) (backend.ChallengeWidget, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	if err := a.b.enter("Auth.NewChallengeWidget"); err != nil {
		return nil, err
	}
	w := &Widget{anchor: anchorID}
	a.b.widgets = append(a.b.widgets, w)
	return w, nil
}

func (a *auth) SendPhoneChallenge(ctx context.Context, resolver *backend.MFAResolver, hint backend.MFAHint, widget backend.ChallengeWidget) (string, error) {
	if widget == nil {
		return "", backend.NewError(backend.CodeInvalidArgument, "Firebase: Error (auth/argument-error).")
	}
	token, err := widget.Token(ctx)

	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	if err := a.b.enter("Auth.SendPhoneChallenge"); err != nil {
		return "", err
	}
	if err != nil {
		return "", backend.NewError(backend.CodeInvalidArgument, "%s", err.Error())
	}
	if token == "" {
		return "", authError("auth/captcha-check-failed")
	}
	if resolver == nil {
		return "", authError(backend.CodeMissingMFASession)
	}
	if _, ok := a.b.pending[resolver.Session]; !ok {
		return "", authError(backend.CodeInvalidMFASession)
	}

	a.b.nextVerif++
	vid := fmt.Sprintf("vid-%d", a.b.nextVerif)
	a.b.verifs[vid] = &verification{session: resolver.Session, code: a.b.smsCode}
	a.b.sent = append(a.b.sent, SentCode{PhoneNumber: hint.PhoneNumber, Code: a.b.smsCode, VerificationID: vid})
	return vid, nil
}

func (a *auth) ResolveSignIn(ctx context.Context, resolver *backend.MFAResolver, verificationID, code string) (*backend.SignInResult, error) {
	a.b.mu.Lock()

	if err := a.b.enter("Auth.ResolveSignIn"); err != nil {
		a.b.mu.Unlock()
		return nil, err
	}
	if resolver == nil {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeMissingMFASession)
	}
	v, ok := a.b.verifs[verificationID]
	if !ok {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeInvalidVerification)
	}
	email, ok := a.b.pending[resolver.Session]
	if !ok || v.session != resolver.Session {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeInvalidMFASession)
	}
	if v.expired {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeCodeExpired)
	}
	if v.code != code {
		a.b.mu.Unlock()
		return nil, authError(backend.CodeInvalidCode)
	}

	delete(a.b.verifs, verificationID)
	delete(a.b.pending, resolver.Session)
	u := a.b.users[email]
	p := backend.Principal{Email: u.email, UID: u.uid}
	fns := a.b.setCurrent(&p)
	a.b.mu.Unlock()

	notify(fns, backend.AuthEvent{Principal: &p, Method: backend.MethodMultiFactor})
	return &backend.SignInResult{Principal: p, Method: backend.MethodMultiFactor}, nil
}
