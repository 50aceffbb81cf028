package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose selects one of the three signing profiles. Each purpose signs
// with its own derived key and its own expiry policy; verifying a token
// against the wrong purpose fails closed at both the signature and the
// claim level.
type Purpose string

const (
	PurposeLogin Purpose = "login"
	PurposeBot   Purpose = "bot"
	PurposeReset Purpose = "reset"
)

const (
	defaultIssuer   = "aegis"
	defaultLoginTTL = 12 * time.Hour
	defaultBotTTL   = 48 * time.Hour
	defaultResetTTL = 30 * time.Minute

	// Bots are told to renew well before the token lapses.
	renewFraction = 2
)

// Claims is the signed token payload: the cleaned account snapshot plus the
// signing purpose and the registered time claims.
type Claims struct {
	Account AccountSnapshot `json:"account"`
	Purpose Purpose         `json:"purpose"`
	jwt.RegisteredClaims
}

// IssuedToken is a freshly signed token together with its expiry and, for
// bot tokens, the renewal timeout advertised to the caller.
type IssuedToken struct {
	Token        string        `json:"token"`
	ExpiresAt    time.Time     `json:"expires_at"`
	RenewTimeout time.Duration `json:"renew_timeout,omitempty"`
}

// Tokens issues and verifies the service's signed tokens and owns the
// account-facing authentication operations (login, bot lifecycle, password
// reset).
type Tokens struct {
	accounts AccountStore
	roles    RoleStore

	secret     []byte
	issuer     string
	now        func() time.Time
	loginTTL   time.Duration
	botTTL     time.Duration
	resetTTL   time.Duration
	botRoleKey string
}

// TokenOption configures the token service.
type TokenOption func(*Tokens)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithLoginTTL sets the interactive-login token lifetime.
func WithLoginTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.loginTTL = ttl
		}
	}
}

// WithBotTTL sets the bot token lifetime.
func WithBotTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.botTTL = ttl
		}
	}
}

// WithResetTTL sets the password-reset token lifetime.
func WithResetTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.resetTTL = ttl
		}
	}
}

// WithBotRoleKey sets the business key of the role granted to bot accounts.
func WithBotRoleKey(key string) TokenOption {
	return func(t *Tokens) {
		if key = strings.TrimSpace(key); key != "" {
			t.botRoleKey = key
		}
	}
}

// NewTokens constructs the token service. An empty secret is tolerated here
// so the process can boot, but every signing and verification call then
// fails with ErrInternal; a missing signing key is never silently skipped.
func NewTokens(accounts AccountStore, roles RoleStore, secret string, opts ...TokenOption) (*Tokens, error) {
	if accounts == nil || roles == nil {
		return nil, errors.New("account and role stores are required")
	}
	t := &Tokens{
		accounts:   accounts,
		roles:      roles,
		secret:     []byte(strings.TrimSpace(secret)),
		issuer:     defaultIssuer,
		now:        time.Now,
		loginTTL:   defaultLoginTTL,
		botTTL:     defaultBotTTL,
		resetTTL:   defaultResetTTL,
		botRoleKey: "bot",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// signingKey derives the per-purpose HMAC key from the base secret.
func (t *Tokens) signingKey(purpose Purpose) ([]byte, error) {
	if len(t.secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret is not configured", ErrInternal)
	}
	sum := sha256.Sum256(append(append([]byte{}, t.secret...), []byte(":"+string(purpose))...))
	return sum[:], nil
}

func (t *Tokens) ttl(purpose Purpose) time.Duration {
	switch purpose {
	case PurposeBot:
		return t.botTTL
	case PurposeReset:
		return t.resetTTL
	default:
		return t.loginTTL
	}
}

func (t *Tokens) sign(account *Account, purpose Purpose) (IssuedToken, error) {
	key, err := t.signingKey(purpose)
	if err != nil {
		return IssuedToken{}, err
	}
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl(purpose))
	claims := Claims{
		Account: account.Snapshot(),
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: sign token: %v", ErrInternal, err)
	}
	issued := IssuedToken{Token: signed, ExpiresAt: expiresAt}
	if purpose == PurposeBot {
		issued.RenewTimeout = t.botTTL / renewFraction
	}
	return issued, nil
}

// Verify checks the token signature and time claims against the given
// purpose and returns the decoded claims.
func (t *Tokens) Verify(token string, purpose Purpose) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is missing", ErrUnauthorized)
	}
	key, err := t.signingKey(purpose)
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return key, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: token purpose mismatch", ErrUnauthorized)
	}
	if claims.Account.ID == "" || claims.Subject != claims.Account.ID {
		return nil, fmt.Errorf("%w: invalid token subject", ErrUnauthorized)
	}
	return claims, nil
}

// verifyAny tries the given purposes in order. Authentication middleware
// accepts both interactive and bot tokens; reset tokens are never accepted
// here.
func (t *Tokens) verifyAny(token string, purposes ...Purpose) (*Claims, error) {
	var lastErr error
	for _, purpose := range purposes {
		claims, err := t.Verify(token, purpose)
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, ErrInternal) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil, lastErr
}

// Login authenticates interactive credentials and signs a login token.
// Exactly one of email or username must be supplied. A missing account and
// a failed password match both report "no match for user and password":
// callers cannot probe which identifiers exist.
func (t *Tokens) Login(ctx context.Context, creds Credentials) (IssuedToken, error) {
	email := strings.TrimSpace(strings.ToLower(creds.Email))
	username := strings.TrimSpace(creds.Username)
	if (email == "") == (username == "") {
		return IssuedToken{}, fmt.Errorf("%w: exactly one of email or username is required", ErrBadRequest)
	}

	var (
		account *Account
		err     error
	)
	if email != "" {
		account, err = t.accounts.FindByEmail(ctx, email)
	} else {
		account, err = t.accounts.FindByUsername(ctx, username)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedToken{}, fmt.Errorf("%w: no match for user and password", ErrNotFound)
		}
		return IssuedToken{}, err
	}
	if !account.Enabled || !account.LoginEnabled {
		return IssuedToken{}, fmt.Errorf("%w: account may not log in", ErrUnauthorized)
	}
	if err := VerifyPassword(account.PasswordHash, creds.Password); err != nil {
		return IssuedToken{}, fmt.Errorf("%w: no match for user and password", ErrNotFound)
	}

	now := t.now().UTC()
	account.LastLogin = &now
	if err := t.accounts.Update(ctx, account); err != nil {
		return IssuedToken{}, err
	}
	return t.sign(account, PurposeLogin)
}

// CurrentAccount verifies the token (login or bot purpose) and reloads the
// fresh account. The embedded snapshot is never trusted beyond locating the
// record: a disabled or deleted account fails even with a live token.
func (t *Tokens) CurrentAccount(ctx context.Context, token string) (*Account, error) {
	claims, err := t.verifyAny(token, PurposeLogin, PurposeBot)
	if err != nil {
		return nil, err
	}
	account, err := t.accounts.Find(ctx, claims.Account.ID)
	if err != nil {
		return nil, err
	}
	if !account.Enabled {
		return nil, fmt.Errorf("%w: account is disabled", ErrNotFound)
	}
	return account, nil
}

// CreateBotAccount registers a service account keyed by the caller's uuid,
// grants it the configured bot role and returns a bot token. Re-registering
// an existing bot uuid re-issues a token instead of failing, so services
// can register on every boot.
func (t *Tokens) CreateBotAccount(ctx context.Context, botUUID string) (IssuedToken, error) {
	botUUID = strings.TrimSpace(botUUID)
	if botUUID == "" {
		return IssuedToken{}, fmt.Errorf("%w: uuid is required", ErrBadRequest)
	}
	botRole, err := t.roles.FindByKey(ctx, t.botRoleKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedToken{}, fmt.Errorf("%w: bot role %q is not provisioned", ErrInternal, t.botRoleKey)
		}
		return IssuedToken{}, err
	}

	now := t.now().UTC()
	account, err := t.accounts.FindByUsername(ctx, botUUID)
	switch {
	case err == nil:
		if account.LoginEnabled || !account.HasRole(botRole.ID) {
			return IssuedToken{}, fmt.Errorf("%w: uuid is already taken by a non-bot account", ErrConflict)
		}
		if !account.Enabled {
			return IssuedToken{}, fmt.Errorf("%w: bot account is disabled", ErrUnauthorized)
		}
	case errors.Is(err, ErrNotFound):
		account = &Account{
			Username:     botUUID,
			Enabled:      true,
			LoginEnabled: false,
			RoleIDs:      []string{botRole.ID},
			LastLogin:    &now,
		}
		if err := t.accounts.Create(ctx, account); err != nil {
			return IssuedToken{}, err
		}
	default:
		return IssuedToken{}, err
	}

	account.LastLogin = &now
	if err := t.accounts.Update(ctx, account); err != nil {
		return IssuedToken{}, err
	}
	return t.sign(account, PurposeBot)
}

// RenewBotToken verifies a still-valid bot token and mints a fresh one.
// Renewal is idempotent, not consumption: calling it repeatedly before
// expiry keeps the same account identity and never revokes the role.
func (t *Tokens) RenewBotToken(ctx context.Context, oldToken string) (IssuedToken, error) {
	claims, err := t.Verify(oldToken, PurposeBot)
	if err != nil {
		return IssuedToken{}, err
	}
	account, err := t.accounts.Find(ctx, claims.Account.ID)
	if err != nil {
		return IssuedToken{}, err
	}
	if !account.Enabled {
		return IssuedToken{}, fmt.Errorf("%w: bot account is disabled", ErrUnauthorized)
	}
	if account.LoginEnabled {
		return IssuedToken{}, fmt.Errorf("%w: account is no longer a bot", ErrUnauthorized)
	}
	botRole, err := t.roles.FindByKey(ctx, t.botRoleKey)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: bot role %q is not provisioned", ErrInternal, t.botRoleKey)
	}
	if !account.HasRole(botRole.ID) {
		return IssuedToken{}, fmt.Errorf("%w: account no longer holds the bot role", ErrUnauthorized)
	}

	now := t.now().UTC()
	account.LastLogin = &now
	if err := t.accounts.Update(ctx, account); err != nil {
		return IssuedToken{}, err
	}
	return t.sign(account, PurposeBot)
}

// IssueResetToken signs a short-lived password-reset token for the account
// with the given email. The token is only accepted by VerifyResetToken.
func (t *Tokens) IssueResetToken(ctx context.Context, email string) (IssuedToken, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return IssuedToken{}, fmt.Errorf("%w: email is required", ErrBadRequest)
	}
	account, err := t.accounts.FindByEmail(ctx, email)
	if err != nil {
		return IssuedToken{}, err
	}
	if !account.Enabled {
		return IssuedToken{}, fmt.Errorf("%w: account is disabled", ErrUnauthorized)
	}
	return t.sign(account, PurposeReset)
}

// ResetPassword consumes a reset token and stores the new password hash.
func (t *Tokens) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := t.Verify(token, PurposeReset)
	if err != nil {
		return err
	}
	account, err := t.accounts.Find(ctx, claims.Account.ID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	account.PasswordHash = hash
	return t.accounts.Update(ctx, account)
}
