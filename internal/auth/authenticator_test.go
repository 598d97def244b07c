package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/httpclient"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func newAuthenticator(url string, now time.Time) *Authenticator {
	client := httpclient.New(httpclient.Config{Timeout: time.Second}, zap.NewNop())
	return New(client, Config{URL: url}, fakeClock{now: now}, zap.NewNop())
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	var got authRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"accessToken":"opaque-token","message":"Authentication Successful"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	token, err := newAuthenticator(srv.URL, now).Authenticate(context.Background(), harvest.Credentials{
		Username: "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token.Value)
	require.Equal(t, now, token.ObtainedAt)
	require.Equal(t, now.Add(DefaultTokenTTL), token.ExpiresAt)
	require.Equal(t, authRequest{Username: "user@example.com", Password: "hunter2"}, got)
}

func TestAuthenticateReadsJWTExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 10, 15, 6, 30, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user@example.com",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(authResponse{AccessToken: signed})
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	token, err := newAuthenticator(srv.URL, now).Authenticate(context.Background(), harvest.Credentials{
		Username: "user@example.com",
		Password: "pw",
	})
	require.NoError(t, err)
	require.Equal(t, exp, token.ExpiresAt)
	require.True(t, token.Valid(now))
	require.False(t, token.Valid(exp.Add(time.Second)))
}

func TestAuthenticateRejectsExpiredJWT(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user@example.com",
		"exp": now.Add(-time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(authResponse{AccessToken: signed})
	}))
	defer srv.Close()

	_, err = newAuthenticator(srv.URL, now).Authenticate(context.Background(), harvest.Credentials{
		Username: "user@example.com",
		Password: "pw",
	})
	var authErr *harvest.AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	require.ErrorIs(t, err, harvest.ErrTokenInvalid)
}

func TestAuthenticateFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"Invalid username or password"}`,
			checkFn: func(t *testing.T, err error) {
				var statusErr *httpclient.StatusError
				require.True(t, errors.As(err, &statusErr))
				require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
			},
		},
		{
			name:   "missing token field",
			status: http.StatusOK,
			body:   `{"message":"ok"}`,
			checkFn: func(t *testing.T, err error) {
				require.ErrorIs(t, err, errMissingToken)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `not json`,
			checkFn: func(t *testing.T, err error) {
				require.Contains(t, err.Error(), "decode response")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newAuthenticator(srv.URL, time.Now()).Authenticate(context.Background(), harvest.Credentials{
				Username: "u",
				Password: "p",
			})
			require.Error(t, err)
			var authErr *harvest.AuthenticationError
			require.True(t, errors.As(err, &authErr))
			tc.checkFn(t, err)
		})
	}
}

func TestAuthenticateRejectsEmptyCredentialsWithoutNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newAuthenticator(srv.URL, time.Now()).Authenticate(context.Background(), harvest.Credentials{Username: "u"})
	require.ErrorIs(t, err, harvest.ErrInvalidCredentials)
	require.Zero(t, calls.Load())
}
