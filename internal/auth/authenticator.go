// Package auth exchanges account credentials for a bearer session token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/httpclient"
)

// DefaultTokenTTL applies when the issued token carries no readable expiry.
const DefaultTokenTTL = 24 * time.Hour

var errMissingToken = errors.New("response has no accessToken")

// Doer is the subset of the HTTP adapter used by the authenticator.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Config controls the authentication exchange.
type Config struct {
	URL      string
	TokenTTL time.Duration
}

// Authenticator performs the credential exchange.
type Authenticator struct {
	client Doer
	cfg    Config
	clock  harvest.Clock
	logger *zap.Logger
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	Message     string `json:"message,omitempty"`
}

// New builds an Authenticator.
func New(client Doer, cfg Config, clock harvest.Clock, logger *zap.Logger) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{client: client, cfg: cfg, clock: clock, logger: logger}
}

// Authenticate performs exactly one exchange. Every failure is an *harvest.AuthenticationError.
func (a *Authenticator) Authenticate(ctx context.Context, creds harvest.Credentials) (harvest.Token, error) {
	if err := creds.Validate(); err != nil {
		return harvest.Token{}, &harvest.AuthenticationError{Cause: err}
	}
	if a.cfg.URL == "" {
		return harvest.Token{}, &harvest.AuthenticationError{Cause: errors.New("auth url is not configured")}
	}

	resp, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    a.cfg.URL,
		Body:   authRequest{Username: creds.Username, Password: creds.Password},
	})
	if err != nil {
		return harvest.Token{}, &harvest.AuthenticationError{Cause: err}
	}

	var body authResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return harvest.Token{}, &harvest.AuthenticationError{Cause: fmt.Errorf("decode response: %w", err)}
	}
	value := strings.TrimSpace(body.AccessToken)
	if value == "" {
		return harvest.Token{}, &harvest.AuthenticationError{Cause: errMissingToken}
	}

	now := a.clock.Now()
	token := harvest.Token{
		Value:      value,
		ObtainedAt: now,
		ExpiresAt:  a.expiry(value, now),
	}
	if !token.Valid(now) {
		return harvest.Token{}, &harvest.AuthenticationError{
			Cause: fmt.Errorf("%w: expired at %s", harvest.ErrTokenInvalid, token.ExpiresAt.Format(time.RFC3339)),
		}
	}
	a.logger.Info("token obtained",
		zap.String("username", creds.Username),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// expiry reads the exp claim without verifying the signature.
func (a *Authenticator) expiry(value string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.UTC()
		}
	}
	return now.Add(a.cfg.TokenTTL)
}
