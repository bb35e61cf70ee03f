package console

import (
	"context"
	"errors"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
)

// ChallengeAnchor is the anchor id the challenge widget is bound to.
const ChallengeAnchor = "mfa-recaptcha"

// mfaChallenge is the pending second-factor sign-in. At most one exists.
type mfaChallenge struct {
	resolver       *backend.MFAResolver
	verificationID string
}

func (c *Console) authHandle(action string) (backend.Auth, error) {
	sess := c.session()
	if !sess.initialized {
		return nil, c.reject(SubsystemAuth, action, "Auth service not initialized", ErrNotInitialized)
	}
	return sess.auth, nil
}

// discardChallenge drops a pending challenge before a new sign-in attempt.
func (c *Console) discardChallenge() {
	c.authMu.Lock()
	pending := c.challenge != nil
	c.challenge = nil
	c.authMu.Unlock()

	if pending {
		c.log.Info("MFA: Pending challenge discarded.")
	}
}

// SignIn signs in with email and password. The principal is reported by the
// auth observer; a second-factor requirement leaves a pending challenge.
func (c *Console) SignIn(ctx context.Context, email, password string) error {
	auth, err := c.authHandle("sign_in")
	if err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return c.invalid(SubsystemAuth, "sign_in", "Please enter an email and password")
	}

	c.discardChallenge()
	c.signingIn.Add(1)
	c.dispatch(ctx, SubsystemAuth, "sign_in", func(ctx context.Context) error {
		defer c.signingIn.Add(-1)

		_, err := auth.SignInWithPassword(ctx, email, password)
		if err == nil {
			return nil
		}

		var mfa *backend.MFARequiredError
		if errors.As(err, &mfa) {
			c.authMu.Lock()
			replaced := c.challenge != nil
			c.challenge = &mfaChallenge{resolver: mfa.Resolver}
			c.authMu.Unlock()
			if replaced {
				c.log.Info("MFA: Pending challenge discarded.")
			}
			c.log.Info("MFA Required: Please enter your verification code.")
			return nil
		}

		c.log.Error("Error: Firebase auth failed - " + err.Error())
		return err
	})
	return nil
}

// SignUp creates an account and signs it in.
func (c *Console) SignUp(ctx context.Context, email, password string) error {
	auth, err := c.authHandle("sign_up")
	if err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return c.invalid(SubsystemAuth, "sign_up", "Please enter an email and password")
	}

	c.signingIn.Add(1)
	c.dispatch(ctx, SubsystemAuth, "sign_up", func(ctx context.Context) error {
		defer c.signingIn.Add(-1)

		res, err := auth.SignUp(ctx, email, password)
		if err != nil {
			c.log.Error("Error: " + err.Error())
			return err
		}
		c.log.Success("Account created (" + res.Principal.Email + ")")
		return nil
	})
	return nil
}

// SignOut ends the current session.
func (c *Console) SignOut(ctx context.Context) error {
	auth, err := c.authHandle("sign_out")
	if err != nil {
		return err
	}

	c.dispatch(ctx, SubsystemAuth, "sign_out", func(ctx context.Context) error {
		if err := auth.SignOut(ctx); err != nil {
			c.log.Error("Failed to sign out: " + err.Error())
			return err
		}
		c.log.Info("Logged out")
		return nil
	})
	return nil
}

// FederatedSignIn signs in with an OAuth id token issued by a federated
// identity provider.
func (c *Console) FederatedSignIn(ctx context.Context, idToken string) error {
	auth, err := c.authHandle("federated_sign_in")
	if err != nil {
		return err
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return c.invalid(SubsystemAuth, "federated_sign_in", "Please enter an OAuth ID token")
	}

	c.discardChallenge()
	c.signingIn.Add(1)
	c.dispatch(ctx, SubsystemAuth, "federated_sign_in", func(ctx context.Context) error {
		defer c.signingIn.Add(-1)

		if _, err := auth.SignInWithIDPToken(ctx, idToken); err != nil {
			c.log.Error("Error: Federated sign-in failed - " + err.Error())
			return err
		}
		return nil
	})
	return nil
}

// VerifyChallenge advances the pending second-factor challenge. The first
// call sends a one-time code to the first enrolled factor; later calls
// submit code.
func (c *Console) VerifyChallenge(ctx context.Context, code string) error {
	auth, err := c.authHandle("verify_challenge")
	if err != nil {
		return err
	}

	c.authMu.Lock()
	ch := c.challenge
	c.authMu.Unlock()

	if ch == nil {
		return c.reject(SubsystemAuth, "verify_challenge", "MFA session expired. Please try logging in again.", ErrSessionExpired)
	}
	if ch.resolver == nil || len(ch.resolver.Hints) == 0 {
		return c.reject(SubsystemAuth, "verify_challenge", "No MFA factors found.", ErrNoFactorsEnrolled)
	}

	hint := ch.resolver.Hints[0]
	c.log.Info("MFA Verification: Attempting to verify " + hint.FactorID + " code...")
	if hint.FactorID != backend.FactorPhone {
		return c.reject(SubsystemAuth, "verify_challenge", "Unsupported MFA factor type: "+hint.FactorID, ErrUnsupportedFactorKind)
	}

	code = strings.TrimSpace(code)
	c.dispatch(ctx, SubsystemAuth, "verify_challenge", func(ctx context.Context) error {
		c.flowMu.Lock()
		defer c.flowMu.Unlock()

		c.authMu.Lock()
		if c.challenge != ch {
			c.authMu.Unlock()
			c.log.Error("MFA session expired. Please try logging in again.")
			return ErrSessionExpired
		}
		vid := ch.verificationID
		c.authMu.Unlock()

		if vid == "" {
			return c.sendCode(ctx, auth, ch, hint)
		}
		return c.resolve(ctx, auth, ch, vid, code)
	})
	return nil
}

// sendCode dispatches a one-time code for hint. c.flowMu must be held.
func (c *Console) sendCode(ctx context.Context, auth backend.Auth, ch *mfaChallenge, hint backend.MFAHint) error {
	widget, err := c.createWidget(auth)
	if err != nil {
		c.log.Error("MFA Error: Failed to send SMS - " + err.Error())
		return err
	}

	vid, err := auth.SendPhoneChallenge(ctx, ch.resolver, hint, widget)
	if err != nil {
		c.authMu.Lock()
		c.destroyWidget()
		c.authMu.Unlock()
		c.log.Error("MFA Error: Failed to send SMS - " + err.Error())
		return err
	}

	c.authMu.Lock()
	if c.challenge == ch {
		ch.verificationID = vid
	}
	c.authMu.Unlock()

	phone := hint.PhoneNumber
	if phone == "" {
		phone = "your phone"
	}
	c.log.Info("MFA SMS: Verification code sent to " + phone + ". Please enter the 6-digit code.")
	return nil
}

// resolve completes the challenge with code. c.flowMu must be held.
func (c *Console) resolve(ctx context.Context, auth backend.Auth, ch *mfaChallenge, vid, code string) error {
	res, err := auth.ResolveSignIn(ctx, ch.resolver, vid, code)
	if err == nil {
		c.authMu.Lock()
		if c.challenge == ch {
			c.challenge = nil
		}
		c.authMu.Unlock()

		email := res.Principal.Email
		if email == "" {
			email = ch.resolver.Email
		}
		c.log.Success("MFA Success: Logged in as " + email)
		return nil
	}

	var msg string
	discard := false
	switch backend.CodeOf(err) {
	case backend.CodeInvalidCode:
		msg = "Invalid verification code."
		err = errors.Join(ErrInvalidCode, err)
	case backend.CodeCodeExpired:
		msg = "Verification code has expired."
		err = errors.Join(ErrCodeExpired, err)
		discard = true
	case backend.CodeInvalidMFASession, backend.CodeMissingMFASession:
		msg = "MFA verification failed: " + err.Error()
		err = errors.Join(ErrSessionExpired, err)
		discard = true
	default:
		msg = "MFA verification failed: " + err.Error()
	}

	if discard {
		c.authMu.Lock()
		if c.challenge == ch {
			c.challenge = nil
		}
		c.authMu.Unlock()
	}
	c.log.Error("MFA Error: " + msg)
	return err
}

// CancelChallenge discards any pending challenge. It always logs, even when
// nothing was pending.
func (c *Console) CancelChallenge() {
	c.authMu.Lock()
	c.challenge = nil
	c.authMu.Unlock()
	c.log.Info("MFA Cancelled: Login cancelled by user.")
}

// createWidget returns the challenge widget, creating it on first use.
func (c *Console) createWidget(auth backend.Auth) (backend.ChallengeWidget, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.widget != nil {
		return c.widget, nil
	}
	w, err := auth.NewChallengeWidget(ChallengeAnchor)
	if err != nil {
		return nil, err
	}
	c.widget = w
	return w, nil
}

// destroyWidget releases the widget so the next dispatch recreates it.
// c.authMu must be held.
func (c *Console) destroyWidget() {
	if c.widget != nil {
		c.widget.Clear()
		c.widget = nil
	}
}
