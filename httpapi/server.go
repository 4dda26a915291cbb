package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	identity "github.com/kadvik/identity"
)

const maxBodyBytes = 1 << 20

// Server is an http.Handler exposing the engine under /auth/. Construct
// it with New and mount it on any mux, or serve it directly.
type Server struct {
	engine *identity.Engine
	mux    *http.ServeMux
}

// New builds the route table for the given engine.
func New(engine *identity.Engine) (*Server, error) {
	if engine == nil {
		return nil, errors.New("httpapi: nil engine")
	}

	s := &Server{engine: engine, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/mfa/totp/verify", s.handleMFAVerify(identity.MFAMethodTOTP))
	s.mux.HandleFunc("POST /auth/mfa/backup/verify", s.handleMFAVerify(identity.MFAMethodBackup))
	s.mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/verify-email", s.handleVerifyEmail)
	s.mux.HandleFunc("POST /auth/password-reset/request", s.handleResetRequest)
	s.mux.HandleFunc("POST /auth/password-reset/confirm", s.handleResetConfirm)
	s.mux.HandleFunc("POST /auth/totp/enroll/initiate", s.handleEnrollInitiate)
	s.mux.HandleFunc("POST /auth/totp/enroll/confirm", s.handleEnrollConfirm)
	s.mux.HandleFunc("POST /auth/totp/enroll/disable", s.handleEnrollDisable)

	return s, nil
}

// ServeHTTP attaches request metadata to the context and dispatches.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx = identity.WithClientIP(ctx, remoteIP(r))
	ctx = identity.WithUserAgent(ctx, r.UserAgent())
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// authResponse is the success shape of login, MFA verify, and refresh.
type authResponse struct {
	AccessToken        string    `json:"access_token"`
	AccessExpiresAt    time.Time `json:"access_expires_at"`
	RefreshToken       string    `json:"refresh_token"`
	RefreshExpiresAt   time.Time `json:"refresh_expires_at"`
	TrustedDeviceToken string    `json:"trusted_device_token,omitempty"`
}

// challengeResponse is the login shape when a second factor is pending.
type challengeResponse struct {
	MFARequired    bool   `json:"mfa_required"`
	ChallengeToken string `json:"challenge_token"`
	MethodHint     string `json:"method_hint,omitempty"`
}

func toAuthResponse(result *identity.LoginResult) authResponse {
	return authResponse{
		AccessToken:        result.AccessToken,
		AccessExpiresAt:    result.AccessExpiresAt,
		RefreshToken:       result.RefreshToken,
		RefreshExpiresAt:   result.RefreshExpiresAt,
		TrustedDeviceToken: result.TrustedDeviceToken,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier         string `json:"identifier"`
		Password           string `json:"password"`
		RememberMe         bool   `json:"remember_me"`
		TrustedDeviceToken string `json:"trusted_device_token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := s.engine.Login(r.Context(), body.Identifier, body.Password, identity.LoginOptions{
		RememberMe:         body.RememberMe,
		TrustedDeviceToken: body.TrustedDeviceToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, challengeResponse{
			MFARequired:    true,
			ChallengeToken: result.ChallengeToken,
			MethodHint:     result.MethodHint,
		})
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

func (s *Server) handleMFAVerify(method identity.MFAMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChallengeToken string `json:"challenge_token"`
			Code           string `json:"code"`
			TrustDevice    bool   `json:"trust_device"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}

		result, err := s.engine.ConfirmMFA(r.Context(), body.ChallengeToken, body.Code, method, identity.ConfirmMFAOptions{
			TrustDevice: body.TrustDevice,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAuthResponse(result))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := s.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.Logout(r.Context(), body.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegister accepts every well-formed registration. Duplicates are
// silently absorbed by the engine, so the response shape never reveals
// whether the identifier was taken.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	err := s.engine.Register(r.Context(), identity.RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.ConfirmEmail(r.Context(), body.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResetRequest responds identically for known and unknown
// identifiers; only the throttle is observable.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), body.Identifier); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnrollInitiate(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	setup, err := s.engine.InitiateTOTPEnrollment(r.Context(), principal.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret": setup.Secret,
		"uri":    setup.URI,
	})
}

func (s *Server) handleEnrollConfirm(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.ConfirmTOTPEnrollment(r.Context(), principal.AccountID, body.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnrollDisable(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.DisableTOTP(r.Context(), principal.AccountID, body.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authenticate resolves the bearer token on enrollment routes. Failures
// use the envelope, unlike the generic middleware guard.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*identity.AuthResult, bool) {
	const bearer = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearer) || header == bearer {
		writeEnvelope(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}

	principal, err := s.engine.ValidateAccess(r.Context(), header[len(bearer):])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return principal, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
