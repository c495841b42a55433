package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/folio-auth/internal/api"
)

func TestClient_RequestShape(t *testing.T) {
	var got struct {
		method string
		path   string
		auth   string
		body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.body = nil
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mfaRequired":true,"tempToken":"tmp","mfaMethod":"email","id":"u1","email":"a@x.com"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	ctx := context.Background()

	login, err := c.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/auth/login", got.path)
	assert.Empty(t, got.auth)
	assert.Equal(t, "a@x.com", got.body["email"])
	assert.True(t, login.MFARequired)
	assert.Equal(t, "tmp", login.TempToken)

	_, err = c.Me(ctx, "access-token")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/auth/me", got.path)
	assert.Equal(t, "Bearer access-token", got.auth)

	_, err = c.UpdateMFA(ctx, "access-token", true, "email")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/auth/mfa", got.path)
	assert.Equal(t, true, got.body["mfaEnabled"])

	require.NoError(t, c.LogoutAll(ctx, "access-token"))
	assert.Equal(t, "/auth/logout-all", got.path)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		wantCode  string
		wantField string
	}{
		{
			name:     "json error body",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid verification code","code":"invalid_code"}`,
			wantMsg:  "invalid verification code",
			wantCode: api.CodeInvalidCode,
		},
		{
			name:      "validation error",
			status:    http.StatusBadRequest,
			body:      `{"error":"otp must be 6 digits","code":"validation_failed","field":"otp"}`,
			wantMsg:   "otp must be 6 digits",
			wantCode:  api.CodeValidation,
			wantField: "otp",
		},
		{
			name:    "body without code",
			status:  http.StatusUnauthorized,
			body:    `{"error":"invalid verification code"}`,
			wantMsg: "invalid verification code",
		},
		{
			name:    "non json body",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantMsg: "502 Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, nil).VerifyMFA(context.Background(), "tmp", "000000", "email")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantField, apiErr.Field)
			assert.True(t, IsStatus(err, tt.status))
			assert.Equal(t, tt.wantCode != "", IsCode(err, tt.wantCode))
		})
	}
}
