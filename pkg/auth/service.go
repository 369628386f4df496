// Package auth is the estimator's account lifecycle: registration, login,
// email verification, invitation completion, and the HTTP middleware
// (bearer-token auth, per-key rate limiting, CORS, request-id) that gates
// every route built on top of it. Session tokens are stateless JWTs signed
// by pkg/identity's rotating KeySet; everything else rides on
// pkg/store.Store and pkg/presign for the one stateless token this package
// itself mints (email verification).
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/identity"
	"github.com/takeoffworks/estimator/pkg/presign"
	"github.com/takeoffworks/estimator/pkg/types"
)

const verifyEmailAction = "verify-email"

// Store is the slice of pkg/store.Store the auth service depends on.
type Store interface {
	UserCreate(ctx context.Context, u *types.User) error
	UserGetByID(ctx context.Context, id string) (*types.User, error)
	UserGetByEmail(ctx context.Context, email string) (*types.User, error)
	MarkVerificationSent(ctx context.Context, userID string) error
	MarkEmailVerified(ctx context.Context, userID string) error

	InvitationGetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID string) error
}

// Service implements the account lifecycle.
type Service struct {
	store      Store
	tokens     *identity.TokenManager
	verifySign *presign.Signer
	sessionTTL time.Duration
}

// New builds a Service. verifySign mints/verifies email-verification
// tokens; it may be the same *presign.Signer used for upload/download URLs
// (the "verify-email" action namespace keeps the two from colliding) or a
// dedicated one.
func New(store Store, tokens *identity.TokenManager, verifySign *presign.Signer, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{store: store, tokens: tokens, verifySign: verifySign, sessionTTL: sessionTTL}
}

// Register creates a new unverified account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, id, email, password, fullName string) (*types.User, error) {
	if email == "" || password == "" {
		return nil, errs.Validationf("missing_fields", "email and password are required")
	}
	if len(password) < 8 {
		return nil, errs.Validationf("weak_password", "password must be at least 8 characters")
	}
	if _, err := s.store.UserGetByEmail(ctx, email); err == nil {
		return nil, errs.New(errs.Conflict, "email_taken", "an account with this email already exists")
	} else if errs.KindOf(err) != errs.NotFound {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Internalf("password_hash", err)
	}

	u := &types.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		SystemRole:   types.SystemRoleUser,
		FullName:     fullName,
	}
	if err := s.store.UserCreate(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and mints a session bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *types.User, error) {
	u, err := s.store.UserGetByEmail(ctx, email)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return "", nil, errs.New(errs.Unauthenticated, "invalid_credentials", "invalid email or password")
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, errs.New(errs.Unauthenticated, "invalid_credentials", "invalid email or password")
	}

	token, err := s.tokens.IssueSession(u.ID, u.Email, s.sessionTTL)
	if err != nil {
		return "", nil, errs.Internalf("session_issue", err)
	}
	return token, u, nil
}

// IssueVerificationToken mints a stateless, action-scoped token proving
// possession of userID's verification email, and stamps the cooldown via
// MarkVerificationSent. Per the resolved Open Question, the cooldown
// engages on send attempt, not confirmed delivery.
func (s *Service) IssueVerificationToken(ctx context.Context, userID string, ttl time.Duration) (presign.Signed, error) {
	signed := s.verifySign.Sign(verifyEmailAction, userID, ttl)
	if err := s.store.MarkVerificationSent(ctx, userID); err != nil {
		return presign.Signed{}, err
	}
	return signed, nil
}

// VerifyEmail checks a verification token minted by IssueVerificationToken
// and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, userID string, exp int64, sig string) error {
	if err := s.verifySign.Verify(verifyEmailAction, userID, exp, sig); err != nil {
		return err
	}
	return s.store.MarkEmailVerified(ctx, userID)
}

// CompleteInvite sets a password for the email address an invitation was
// issued to (creating the account if none exists yet) and accepts the
// invitation, in that order: the invited person gets to pick their own
// password but only once the token itself has checked out.
func (s *Service) CompleteInvite(ctx context.Context, newUserID, tokenPlain, password, fullName string) (string, *types.User, error) {
	if len(password) < 8 {
		return "", nil, errs.Validationf("weak_password", "password must be at least 8 characters")
	}
	tokenHash := hashToken(tokenPlain)
	inv, err := s.store.InvitationGetByTokenHash(ctx, tokenHash)
	if err != nil {
		return "", nil, err
	}
	if inv.Status != types.InvitationPending {
		return "", nil, errs.NotFoundf("invitation_not_pending", "invitation is no longer pending")
	}
	if time.Now().After(inv.ExpiresAt) {
		return "", nil, errs.Validationf("invitation_expired", "invitation has expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, errs.Internalf("password_hash", err)
	}

	u, err := s.store.UserGetByEmail(ctx, inv.Email)
	if err != nil {
		if errs.KindOf(err) != errs.NotFound {
			return "", nil, err
		}
		u = &types.User{
			ID:            newUserID,
			Email:         inv.Email,
			PasswordHash:  string(hash),
			SystemRole:    types.SystemRoleUser,
			EmailVerified: true, // invite delivery already proved mailbox control
		}
		if err := s.store.UserCreate(ctx, u); err != nil {
			return "", nil, err
		}
	} else {
		u.PasswordHash = string(hash)
	}

	if err := s.store.AcceptInvitation(ctx, inv.ID, u.ID); err != nil {
		return "", nil, err
	}

	token, err := s.tokens.IssueSession(u.ID, u.Email, s.sessionTTL)
	if err != nil {
		return "", nil, errs.Internalf("session_issue", err)
	}
	return token, u, nil
}

// hashToken matches the hash-only-at-rest discipline used for invitation
// tokens: the plaintext is handed to the invitee once and never stored.
func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
