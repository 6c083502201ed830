// services/auth.go
package services

import (
	"context"
	"fmt"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

// AuthService authenticates the single operator account and owns the login
// and logout flows. Credential checks sit behind the lockout guard so the
// expensive bcrypt compare never runs for a locked-out client.
type AuthService struct {
	appContext.DefaultService

	jwtSvc     *JWTService
	lockoutSvc *LockoutService

	passwordHash []byte
	userID       string
	userEmail    string
	userName     string
}

const AUTH_SVC = "auth_svc"

func (svc AuthService) Id() string {
	return AUTH_SVC
}

func (svc *AuthService) Configure(ctx *appContext.Context) error {
	if hash := os.Getenv("AUTH_PASSWORD_HASH"); hash != "" {
		svc.passwordHash = []byte(hash)
	} else if plain := os.Getenv("AUTH_PASSWORD"); plain != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		svc.passwordHash = hashed
	} else {
		return fmt.Errorf("AUTH_PASSWORD_HASH or AUTH_PASSWORD is required")
	}

	svc.userID = envString("SESSION_USER_ID", "usr_owner")
	svc.userEmail = envString("SESSION_USER_EMAIL", "owner@example.com")
	svc.userName = envString("SESSION_USER_NAME", "Owner")

	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.lockoutSvc = svc.Service(LOCKOUT_SVC).(*LockoutService)
	return nil
}

func (svc *AuthService) SessionUser() dto.SessionUser {
	return dto.SessionUser{ID: svc.userID, Email: svc.userEmail, Name: svc.userName}
}

// Login verifies the password for the client identified by clientKey and
// returns a fresh session token. Failed attempts feed the lockout guard.
func (svc *AuthService) Login(ctx context.Context, clientKey string, req dto.LoginRequest) (*dto.LoginResponse, error) {
	status, err := svc.lockoutSvc.Status(ctx, clientKey)
	if err != nil {
		return nil, shared.NewStorageError(err)
	}
	if status.Locked {
		return nil, shared.NewLockoutError(*status.LockedUntil)
	}

	if err := bcrypt.CompareHashAndPassword(svc.passwordHash, []byte(req.Password)); err != nil {
		info, lockErr := svc.lockoutSvc.RecordFailure(ctx, clientKey)
		if lockErr != nil {
			return nil, shared.NewStorageError(lockErr)
		}
		if info.Locked {
			return nil, shared.NewLockoutError(*info.LockedUntil)
		}
		return nil, shared.NewAuthFailedError(info.RemainingAttempts)
	}

	if err := svc.lockoutSvc.RecordSuccess(ctx, clientKey); err != nil {
		log.WithError(err).Warn("Failed to clear lockout counter after login")
	}

	token, _, err := svc.jwtSvc.Issue(svc.userID, svc.userEmail, svc.userName)
	if err != nil {
		return nil, shared.NewStorageError(err)
	}

	return &dto.LoginResponse{
		Token:     token,
		ExpiresIn: int64(svc.jwtSvc.SessionTTL().Seconds()),
	}, nil
}

// Logout revokes the session named by jti. Revocation failures do not fail
// the call: the client is logging out either way, so the handler always
// clears the cookie and reports success. The bool tells the caller whether
// the server-side kill actually landed.
func (svc *AuthService) Logout(ctx context.Context, jti string, expiresAt time.Time) bool {
	if jti == "" {
		return false
	}
	if err := svc.jwtSvc.Revoke(ctx, jti, expiresAt); err != nil {
		log.WithError(err).WithField("jti", jti).Error("Token revocation failed during logout")
		return false
	}
	return true
}
