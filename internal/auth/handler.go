// Package auth exposes the login, refresh, and logout endpoints for the
// admin credential set.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/gate"
	"github.com/filegate/service/internal/response"
)

// Handler serves token issuance. Login failures feed the same lockout
// tracker as the access gate, keyed by caller IP.
type Handler struct {
	creds   *credentials.Store
	lockout *gate.Lockout
	log     *zap.Logger
}

func NewHandler(creds *credentials.Store, lockout *gate.Lockout, log *zap.Logger) *Handler {
	return &Handler{creds: creds, lockout: lockout, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login godoc
// @Summary      Exchange credentials for a token pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  loginRequest  true  "credentials"
// @Success      200  {object}  response.Envelope
// @Failure      401  {object}  response.Envelope
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "decode request body", err))
		return
	}

	md := gate.MetadataFromRequest(r)
	lockKey := "ip:" + md.RemoteIP
	if locked, remaining := h.lockout.Locked(lockKey); locked {
		response.FailErr(w, &apperr.Error{
			Code:       apperr.CodeAuthLocked,
			Message:    "too many failed attempts",
			RetryAfter: remaining,
		})
		return
	}

	if err := h.creds.VerifyBasic(req.Username, req.Password); err != nil {
		h.log.Info("login rejected", zap.String("ip", md.RemoteIP), zap.String("user", req.Username))
		if h.lockout.Fail(lockKey) {
			response.FailErr(w, apperr.New(apperr.CodeAuthLocked, "too many failed attempts"))
			return
		}
		response.FailErr(w, apperr.New(apperr.CodeAuthInvalid, "invalid credentials"))
		return
	}
	h.lockout.Reset(lockKey)

	pair, err := h.creds.IssuePair(r.Context(), req.Username)
	if err != nil {
		h.log.Error("issue token pair", zap.Error(err))
		response.FailErr(w, apperr.Wrap(apperr.CodeInternal, "issue tokens", err))
		return
	}
	response.OK(w, "tokens", pair)
}

// Refresh godoc
// @Summary      Rotate a refresh token into a new pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  refreshRequest  true  "refresh token"
// @Success      200  {object}  response.Envelope
// @Failure      401  {object}  response.Envelope
// @Router       /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "decode request body", err))
		return
	}

	pair, err := h.creds.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.FailErr(w, apperr.New(apperr.CodeAuthInvalid, "invalid refresh token"))
		return
	}
	response.OK(w, "tokens", pair)
}

// Logout godoc
// @Summary      Revoke a refresh session
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  refreshRequest  true  "refresh token"
// @Success      200  {object}  response.Envelope
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "decode request body", err))
		return
	}
	if err := h.creds.Logout(r.Context(), req.RefreshToken); err != nil {
		response.FailErr(w, apperr.New(apperr.CodeAuthInvalid, "invalid refresh token"))
		return
	}
	response.OK(w, "logout", map[string]bool{"revoked": true})
}
