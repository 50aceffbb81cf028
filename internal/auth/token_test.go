package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testSecret = "unit-test-secret"

type tokenFixture struct {
	store  *InMemory
	tokens *Tokens
	now    time.Time
}

func newTokenFixture(t *testing.T, opts ...TokenOption) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		store: NewInMemory(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]TokenOption{WithClock(func() time.Time { return f.now })}, opts...)
	tokens, err := NewTokens(f.store.Accounts(), f.store.Roles(), testSecret, opts...)
	if err != nil {
		t.Fatal(err)
	}
	f.tokens = tokens
	return f
}

func (f *tokenFixture) addUser(t *testing.T, username, email, password string) *Account {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	account := &Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      true,
		LoginEnabled: true,
	}
	if err := f.store.Accounts().Create(context.Background(), account); err != nil {
		t.Fatal(err)
	}
	return account
}

func (f *tokenFixture) addBotRole(t *testing.T) *Role {
	t.Helper()
	role := &Role{Key: "bot", Name: "Service account"}
	if err := f.store.Roles().Create(context.Background(), role); err != nil {
		t.Fatal(err)
	}
	return role
}

func TestLoginRequiresExactlyOneIdentifier(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Login(ctx, Credentials{Email: "a@b.c", Username: "a", Password: "x"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("both identifiers: expected ErrBadRequest, got %v", err)
	}
	_, err = f.tokens.Login(ctx, Credentials{Password: "x"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("no identifier: expected ErrBadRequest, got %v", err)
	}
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	f := newTokenFixture(t)
	f.addUser(t, "ana", "ana@example.com", "right-password")
	ctx := context.Background()

	_, errWrong := f.tokens.Login(ctx, Credentials{Email: "ana@example.com", Password: "wrong"})
	_, errMissing := f.tokens.Login(ctx, Credentials{Email: "ghost@example.com", Password: "wrong"})

	if !errors.Is(errWrong, ErrNotFound) {
		t.Fatalf("wrong password: expected ErrNotFound, got %v", errWrong)
	}
	if !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("missing user: expected ErrNotFound, got %v", errMissing)
	}
	if errWrong.Error() != errMissing.Error() {
		t.Fatalf("errors must be indistinguishable: %q vs %q", errWrong, errMissing)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	account := f.addUser(t, "ana", "ana@example.com", "pw")
	account.Enabled = false
	if err := f.store.Accounts().Update(ctx, account); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.Login(ctx, Credentials{Email: "ana@example.com", Password: "pw"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	account.Enabled = true
	account.LoginEnabled = false
	if err := f.store.Accounts().Update(ctx, account); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.Login(ctx, Credentials{Email: "ana@example.com", Password: "pw"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for login-disabled, got %v", err)
	}
}

func TestLoginStampsLastLoginAndSignsCleanSnapshot(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	account := f.addUser(t, "ana", "ana@example.com", "pw")

	issued, err := f.tokens.Login(ctx, Credentials{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	reloaded, _ := f.store.Accounts().Find(ctx, account.ID)
	if reloaded.LastLogin == nil || !reloaded.LastLogin.Equal(f.now) {
		t.Fatalf("lastLogin not stamped: %v", reloaded.LastLogin)
	}

	claims, err := f.tokens.Verify(issued.Token, PurposeLogin)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Account.ID != account.ID || claims.Account.Username != "ana" || claims.Account.Email != "ana@example.com" {
		t.Fatalf("unexpected snapshot: %+v", claims.Account)
	}
	if claims.Subject != account.ID {
		t.Fatalf("subject mismatch: %q", claims.Subject)
	}
}

func TestVerifyRejectsWrongPurpose(t *testing.T) {
	f := newTokenFixture(t)
	f.addUser(t, "ana", "ana@example.com", "pw")

	issued, err := f.tokens.Login(context.Background(), Credentials{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.Verify(issued.Token, PurposeBot); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("login token verified as bot token: %v", err)
	}
	if _, err := f.tokens.Verify(issued.Token, PurposeReset); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("login token verified as reset token: %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	f := newTokenFixture(t, WithLoginTTL(time.Hour))
	f.addUser(t, "ana", "ana@example.com", "pw")

	issued, err := f.tokens.Login(context.Background(), Credentials{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.tokens.Verify(issued.Token, PurposeLogin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestCurrentAccountReloadsFreshState(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	account := f.addUser(t, "ana", "ana@example.com", "pw")

	issued, err := f.tokens.Login(ctx, Credentials{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	current, err := f.tokens.CurrentAccount(ctx, issued.Token)
	if err != nil {
		t.Fatal(err)
	}
	if current.ID != account.ID {
		t.Fatalf("wrong account: %q", current.ID)
	}

	// Disabling after issuance invalidates the still-unexpired token.
	current.Enabled = false
	if err := f.store.Accounts().Update(ctx, current); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.CurrentAccount(ctx, issued.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for disabled account, got %v", err)
	}
}

func TestMissingSecretFailsEveryCall(t *testing.T) {
	store := NewInMemory()
	tokens, err := NewTokens(store.Accounts(), store.Roles(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.Verify("whatever", PurposeLogin); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestCreateBotAccountWithoutBotRole(t *testing.T) {
	f := newTokenFixture(t)
	if _, err := f.tokens.CreateBotAccount(context.Background(), "svc-1"); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal when bot role is missing, got %v", err)
	}
}

func TestCreateBotAccountIsRepeatable(t *testing.T) {
	f := newTokenFixture(t, WithBotTTL(48*time.Hour))
	role := f.addBotRole(t)
	ctx := context.Background()

	first, err := f.tokens.CreateBotAccount(ctx, "svc-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.RenewTimeout != 24*time.Hour {
		t.Fatalf("renew timeout should be half the bot TTL, got %v", first.RenewTimeout)
	}

	account, err := f.store.Accounts().FindByUsername(ctx, "svc-1")
	if err != nil {
		t.Fatal(err)
	}
	if account.LoginEnabled {
		t.Fatal("bot accounts must not be interactive")
	}
	if !account.HasRole(role.ID) {
		t.Fatal("bot account missing the bot role")
	}

	// Services register on every boot; a second registration re-issues
	// instead of failing and never creates a second account.
	f.now = f.now.Add(time.Minute)
	second, err := f.tokens.CreateBotAccount(ctx, "svc-1")
	if err != nil {
		t.Fatal(err)
	}
	claims1, _ := f.tokens.Verify(first.Token, PurposeBot)
	claims2, err := f.tokens.Verify(second.Token, PurposeBot)
	if err != nil {
		t.Fatal(err)
	}
	if claims1.Account.ID != claims2.Account.ID {
		t.Fatal("re-registration changed account identity")
	}
	if n, _ := f.store.Accounts().Count(ctx); n != 1 {
		t.Fatalf("expected one account, got %d", n)
	}
}

func TestCreateBotAccountConflictsWithHumanUsername(t *testing.T) {
	f := newTokenFixture(t)
	f.addBotRole(t)
	f.addUser(t, "svc-1", "human@example.com", "pw")

	if _, err := f.tokens.CreateBotAccount(context.Background(), "svc-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRenewBotToken(t *testing.T) {
	f := newTokenFixture(t)
	f.addBotRole(t)
	ctx := context.Background()

	issued, err := f.tokens.CreateBotAccount(ctx, "svc-1")
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Hour)
	renewed, err := f.tokens.RenewBotToken(ctx, issued.Token)
	if err != nil {
		t.Fatal(err)
	}
	oldClaims, _ := f.tokens.Verify(issued.Token, PurposeBot)
	newClaims, err := f.tokens.Verify(renewed.Token, PurposeBot)
	if err != nil {
		t.Fatal(err)
	}
	if oldClaims.Account.ID != newClaims.Account.ID {
		t.Fatal("renewal changed account identity")
	}
	if !newClaims.IssuedAt.After(oldClaims.IssuedAt.Time) {
		t.Fatal("renewed token must carry a fresh issue time")
	}

	// Stripping the bot role revokes renewability.
	account, _ := f.store.Accounts().FindByUsername(ctx, "svc-1")
	account.RoleIDs = nil
	if err := f.store.Accounts().Update(ctx, account); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.RenewBotToken(ctx, renewed.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after role removal, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newTokenFixture(t)
	f.addUser(t, "ana", "ana@example.com", "old-password")
	ctx := context.Background()

	reset, err := f.tokens.IssueResetToken(ctx, "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	// Reset tokens are never accepted as session tokens.
	if _, err := f.tokens.CurrentAccount(ctx, reset.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reset token accepted as session: %v", err)
	}

	if err := f.tokens.ResetPassword(ctx, reset.Token, "new-password"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tokens.Login(ctx, Credentials{Email: "ana@example.com", Password: "old-password"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := f.tokens.Login(ctx, Credentials{Email: "ana@example.com", Password: "new-password"}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}
