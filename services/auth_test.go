package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

func testAuthService(t *testing.T, now *time.Time) *AuthService {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	return &AuthService{
		jwtSvc:       testJWTService(now),
		lockoutSvc:   testLockoutService(now),
		passwordHash: hash,
		userID:       "usr_owner",
		userEmail:    "owner@example.com",
		userName:     "Owner",
	}
}

func TestAuth_LoginSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)

	resp, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("login should return a token")
	}
	if resp.ExpiresIn != int64((24 * time.Hour).Seconds()) {
		t.Fatalf("expires_in = %d", resp.ExpiresIn)
	}

	claims, err := svc.jwtSvc.Verify(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.UserID != "usr_owner" {
		t.Fatalf("user = %q", claims.UserID)
	}
}

func TestAuth_LoginWrongPasswordCountsDown(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)

	_, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "wrong"})
	appErr, ok := shared.GetAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", appErr.StatusCode)
	}
	data, ok := appErr.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", appErr.Data)
	}
	if data["remaining_attempts"] != 4 {
		t.Fatalf("remaining_attempts = %v, want 4", data["remaining_attempts"])
	}
}

func TestAuth_LoginLocksAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = svc.Login(context.Background(), "client", dto.LoginRequest{Password: "wrong"})
	}
	appErr, ok := shared.GetAppError(lastErr)
	if !ok || appErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("fifth failure should lock, got %v", lastErr)
	}

	// Even the correct password is rejected while locked, without touching
	// the counter.
	_, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "correct-horse"})
	appErr, ok = shared.GetAppError(err)
	if !ok || appErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("locked login should be rejected, got %v", err)
	}

	now = now.Add(16 * time.Minute)
	if _, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "correct-horse"}); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
}

func TestAuth_LoginSuccessResetsLockout(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)

	for i := 0; i < 4; i++ {
		_, _ = svc.Login(context.Background(), "client", dto.LoginRequest{Password: "wrong"})
	}
	if _, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "correct-horse"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "wrong"})
	appErr, ok := shared.GetAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	data := appErr.Data.(map[string]interface{})
	if data["remaining_attempts"] != 4 {
		t.Fatalf("remaining_attempts = %v, want 4 after reset", data["remaining_attempts"])
	}
}

type failingRevocationStore struct{}

func (failingRevocationStore) Revoke(context.Context, string, time.Time) error {
	return errors.New("store down")
}

func (failingRevocationStore) IsRevoked(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (failingRevocationStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func TestAuth_LogoutRevokesSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)

	resp, err := svc.Login(context.Background(), "client", dto.LoginRequest{Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.jwtSvc.Verify(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if ok := svc.Logout(context.Background(), claims.ID, claims.ExpiresAt.Time); !ok {
		t.Fatalf("logout should report the revocation landed")
	}

	if _, err := svc.jwtSvc.Verify(context.Background(), resp.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("token should be revoked after logout, got %v", err)
	}
}

func TestAuth_LogoutFailsOpen(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	svc := testAuthService(t, &now)
	svc.jwtSvc.store = failingRevocationStore{}

	// A broken revocation store means the kill did not land, but the call
	// itself must not error.
	if ok := svc.Logout(context.Background(), "some-jti", now.Add(time.Hour)); ok {
		t.Fatalf("logout should report failure when the store is down")
	}
}
