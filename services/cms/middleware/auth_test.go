// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
	calls    int
}

func (m *mockAuthProvider) Authenticate(_ context.Context, _, _ string) (*extensions.AuthInfo, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

// fakeUsers is an in-memory UserLookup.
type fakeUsers struct {
	users map[string]datatypes.User
	err   error
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (datatypes.User, error) {
	if f.err != nil {
		return datatypes.User{}, f.err
	}
	u, ok := f.users[username]
	if !ok {
		return datatypes.User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) RoleNames(_ context.Context, ids []int64) ([]string, error) {
	names := map[int64]string{1: datatypes.RoleAdmin, 2: datatypes.RoleEditor}
	var out []string
	for _, id := range ids {
		out = append(out, names[id])
	}
	return out, nil
}

func newAuthRouter(provider extensions.AuthProvider, opts AuthOptions, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	handlers := append([]gin.HandlerFunc{BasicAuth(provider, opts)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		info := GetAuthInfo(c)
		c.JSON(http.StatusOK, gin.H{"username": info.Username})
	})
	router.GET("/admin", handlers...)
	return router
}

func doAuth(router *gin.Engine, user, pass string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBasicCredentials Tests
// =============================================================================

func TestExtractBasicCredentials(t *testing.T) {
	tests := []struct {
		name   string
		header string
		user   string
		pass   string
		ok     bool
	}{
		{"valid", "Basic YWxpY2U6c2VjcmV0", "alice", "secret", true},
		{"colon in password", "Basic YWxpY2U6czpl", "alice", "s:e", true},
		{"missing", "", "", "", false},
		{"bearer", "Bearer abc123", "", "", false},
		{"not base64", "Basic !!!", "", "", false},
		{"no colon", "Basic YWxpY2U=", "", "", false},
		{"empty username", "Basic OnNlY3JldA==", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			user, pass, ok := extractBasicCredentials(c)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.pass, pass)
		})
	}
}

// =============================================================================
// BasicAuth Tests
// =============================================================================

func TestBasicAuth_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: 7, Username: "alice"}}
	router := newAuthRouter(provider, AuthOptions{})

	w := doAuth(router, "alice", "secret")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"alice"}`, w.Body.String())
}

func TestBasicAuth_MissingCredentials(t *testing.T) {
	provider := &mockAuthProvider{}
	router := newAuthRouter(provider, AuthOptions{})

	w := doAuth(router, "", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, provider.calls)
}

func TestBasicAuth_InvalidCredentials(t *testing.T) {
	provider := &mockAuthProvider{err: extensions.ErrUnauthorized}
	audit := extensions.NewSlogAuditLogger(nil, 10)
	router := newAuthRouter(provider, AuthOptions{Audit: audit})

	w := doAuth(router, "alice", "wrong")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid username or password")

	events, err := audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{"auth.failure"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Username)
}

func TestBasicAuth_ProviderError(t *testing.T) {
	provider := &mockAuthProvider{err: errors.New("store unavailable")}
	router := newAuthRouter(provider, AuthOptions{})

	w := doAuth(router, "alice", "secret")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication failed")
}

func TestBasicAuth_ThrottlesRepeatedFailures(t *testing.T) {
	provider := &mockAuthProvider{err: extensions.ErrUnauthorized}
	failures := NewLimiter(3, DefaultRateLimitConfig().AuthWindow)
	router := newAuthRouter(provider, AuthOptions{Failures: failures})

	for range 3 {
		assert.Equal(t, http.StatusUnauthorized, doAuth(router, "alice", "wrong").Code)
	}
	w := doAuth(router, "alice", "wrong")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 3, provider.calls, "throttled attempts are not checked")

	provider.err = nil
	provider.authInfo = &extensions.AuthInfo{Username: "alice"}
	assert.Equal(t, http.StatusTooManyRequests, doAuth(router, "alice", "right").Code)
}

// =============================================================================
// RequireRole Tests
// =============================================================================

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"admin allowed", []string{datatypes.RoleAdmin}, http.StatusOK},
		{"editor allowed", []string{datatypes.RoleEditor}, http.StatusOK},
		{"no roles", nil, http.StatusForbidden},
		{"other role", []string{"VIEWER"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{Username: "u", Roles: tt.roles}}
			router := newAuthRouter(provider, AuthOptions{}, RequireRole(datatypes.RoleAdmin, datatypes.RoleEditor))

			assert.Equal(t, tt.want, doAuth(router, "u", "p").Code)
		})
	}
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	router := gin.New()
	router.GET("/x", RequireRole(datatypes.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// StoreAuthProvider Tests
// =============================================================================

func TestStoreAuthProvider(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &fakeUsers{users: map[string]datatypes.User{
		"alice": {ID: 1, Username: "alice", Email: "a@example.com", PasswordHash: hash, RoleIDs: []int64{1}, Enabled: true},
		"bob":   {ID: 2, Username: "bob", PasswordHash: hash, RoleIDs: []int64{2}, Enabled: false},
	}}
	provider := NewStoreAuthProvider(users, nil)
	ctx := context.Background()

	info, err := provider.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.UserID)
	assert.Equal(t, []string{datatypes.RoleAdmin}, info.Roles)

	_, err = provider.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)

	_, err = provider.Authenticate(ctx, "bob", "correct horse")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized, "disabled account")

	_, err = provider.Authenticate(ctx, "mallory", "anything")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)

	users.err = errors.New("disk on fire")
	_, err = provider.Authenticate(ctx, "alice", "correct horse")
	require.Error(t, err)
	assert.NotErrorIs(t, err, extensions.ErrUnauthorized)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("s3cret-pass")))
}
