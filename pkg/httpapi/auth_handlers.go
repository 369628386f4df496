package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  userPublic `json:"user"`
}

type userPublic struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	EmailVerified bool   `json:"email_verified"`
	CreditsBalance int64 `json:"credits_balance"`
}

func (h *handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.deps.Auth.Register(r.Context(), uuid.NewString(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userPublic{
		ID: u.ID, Email: u.Email, FullName: u.FullName,
		EmailVerified: u.EmailVerified, CreditsBalance: u.CreditsBalance,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}

	token, u, err := h.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User: userPublic{
			ID: u.ID, Email: u.Email, FullName: u.FullName,
			EmailVerified: u.EmailVerified, CreditsBalance: u.CreditsBalance,
		},
	})
}

// handleVerifyEmail completes the presigned email-verification link minted
// by handleResendVerification. The link's authorization is the signature
// itself, so this route is public: user_id travels as an explicit query
// parameter since pkg/presign.Signed.Query never embeds the subject it
// signed over.
func (h *handlers) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if userID == "" || err != nil {
		writeError(w, r, errs.Validationf("bad_verify_link", "user_id and exp are required"))
		return
	}
	if err := h.deps.Auth.VerifyEmail(r.Context(), userID, exp, q.Get("sig")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// handleResendVerification requires an authenticated caller (so the cooldown
// is keyed by user id, and callers can only resend their own verification
// email). Route-level rate limiting (1/60s) is applied in the router, ahead
// of this handler.
func (h *handlers) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}

	signed, err := h.deps.Auth.IssueVerificationToken(r.Context(), userID, 24*time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	link := fmt.Sprintf("/api/v1/auth/verify-email?user_id=%s&%s", userID, signed.Query())
	writeJSON(w, http.StatusOK, map[string]string{"verify_url": link})
}

type completeInviteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *handlers) handleCompleteInvite(w http.ResponseWriter, r *http.Request) {
	var req completeInviteRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}

	token, u, err := h.deps.Auth.CompleteInvite(r.Context(), uuid.NewString(), req.Token, req.Password, req.FullName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User: userPublic{
			ID: u.ID, Email: u.Email, FullName: u.FullName,
			EmailVerified: u.EmailVerified, CreditsBalance: u.CreditsBalance,
		},
	})
}
