package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ghostwriter-relay/internal/metrics"
	"ghostwriter-relay/pkg/utils"
)

// DisabledAuthUser is the identity assigned to every request when
// authentication is disabled.
const DisabledAuthUser = "disabled-auth-user"

// Client-facing error messages.
const (
	msgMissingToken       = "Missing authentication token"
	msgInvalidToken       = "Invalid or expired token"
	msgMissingCredentials = "Username and password are required"
	msgInvalidUsername    = "Invalid username format"
	msgInvalidCredentials = "Invalid credentials"
	msgLoginFailed        = "Login failed"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]{1,50}$`)

// Config holds the authentication settings.
type Config struct {
	Secret        string
	AdminPassword string
	TokenTTL      time.Duration
	Disabled      bool
}

// Service issues and checks tokens for the single admin password.
type Service struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService creates and returns a new instance of the Service struct.
func NewService(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{config: cfg, logger: logger, metrics: m}
}

// ValidUsername reports whether name is 1-50 letters, digits, spaces,
// dashes, underscores or dots.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// CheckPassword compares password with the configured admin password in
// constant time. An unset admin password rejects everything.
func (s *Service) CheckPassword(password string) bool {
	if s.config.AdminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AdminPassword)) == 1
}

// Login checks credentials and issues a token.
func (s *Service) Login(username, password string) (string, error) {
	if !s.CheckPassword(password) {
		return "", ErrInvalidCredentials
	}
	return IssueToken(username, s.config.Secret, s.config.TokenTTL)
}

// ErrInvalidCredentials is returned by Login on a password mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the caller's username.
func WithIdentity(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, identityKey{}, username)
}

// IdentityFrom returns the username stored by WithIdentity. The boolean is
// false when none is present or it is empty.
func IdentityFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(identityKey{}).(string)
	return name, ok && name != ""
}

// Middleware requires a valid bearer token and stores its username in the
// request context. With authentication disabled every request is accepted
// as DisabledAuthUser.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Disabled {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), DisabledAuthUser)))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, msgMissingToken)
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		username, err := VerifyToken(token, s.config.Secret)
		if err != nil {
			s.logger.Debug("token rejected", "token", utils.MaskToken(token), "error", err)
			writeJSONError(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), username)))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler serves POST /api/auth/login.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	// An undecodable body is treated like missing fields.
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req)

	if req.Username == "" || req.Password == "" {
		s.metrics.Login("invalid")
		writeJSONError(w, http.StatusBadRequest, msgMissingCredentials)
		return
	}
	if !ValidUsername(req.Username) {
		s.metrics.Login("invalid")
		writeJSONError(w, http.StatusBadRequest, msgInvalidUsername)
		return
	}

	token, err := s.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		s.metrics.Login("invalid")
		s.logger.Info("login rejected", "user", req.Username)
		writeJSONError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	case err != nil:
		s.metrics.Login("error")
		s.logger.Error("login failed", "user", req.Username, "error", err)
		writeJSONError(w, http.StatusInternalServerError, msgLoginFailed)
		return
	}

	s.metrics.Login("ok")
	s.logger.Info("login succeeded", "user", req.Username)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{Token: token})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
