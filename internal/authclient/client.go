// Package authclient is a small HTTP client for the folio-auth endpoints.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elskow/folio-auth/internal/api"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%d: %s (%s)", e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying one of the api.Code*
// values in codes.
func IsCode(err error, codes ...string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code == "" {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type LoginResponse struct {
	MFARequired          bool      `json:"mfaRequired"`
	TempToken            string    `json:"tempToken,omitempty"`
	MFAMethod            string    `json:"mfaMethod,omitempty"`
	AccessToken          string    `json:"accessToken,omitempty"`
	RefreshToken         string    `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

type TokenResponse struct {
	AccessToken          string    `json:"accessToken"`
	RefreshToken         string    `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

type TOTPSetup struct {
	QRCode string `json:"qrCode"`
	Secret string `json:"secret"`
}

type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	MFAEnabled bool   `json:"mfaEnabled"`
	MFAMethod  string `json:"mfaMethod"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, api.AuthLogin, "", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyMFA(ctx context.Context, tempToken, otp, method string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, api.AuthVerifyMFA, "", map[string]string{
		"tempToken": tempToken,
		"otp":       otp,
		"method":    method,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResendOTP(ctx context.Context, tempToken string) (string, error) {
	var out messageResponse
	err := c.do(ctx, api.AuthResendOTP, "", map[string]string{"tempToken": tempToken}, &out)
	return out.Message, err
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out messageResponse
	err := c.do(ctx, api.AuthForgot, "", map[string]string{"email": email}, &out)
	return out.Message, err
}

func (c *Client) VerifyResetOTP(ctx context.Context, email, otp string) (string, error) {
	var out struct {
		ResetToken string `json:"resetToken"`
	}
	err := c.do(ctx, api.AuthVerifyReset, "", map[string]string{
		"email": email,
		"otp":   otp,
	}, &out)
	return out.ResetToken, err
}

func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return c.do(ctx, api.AuthResetPass, "", map[string]string{
		"resetToken":  resetToken,
		"newPassword": newPassword,
	}, nil)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, api.AuthRefreshToken, "", map[string]string{"refreshToken": refreshToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetupTOTP(ctx context.Context, accessToken, userID, email string) (*TOTPSetup, error) {
	var out TOTPSetup
	err := c.do(ctx, api.AuthSetupTOTP, accessToken, map[string]string{
		"userId": userID,
		"email":  email,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmTOTP(ctx context.Context, accessToken, otp string) error {
	return c.do(ctx, api.AuthConfirmTOTP, accessToken, map[string]string{"otp": otp}, nil)
}

func (c *Client) UpdateMFA(ctx context.Context, accessToken string, enabled bool, method string) (*User, error) {
	var out User
	err := c.do(ctx, api.AuthUpdateMFA, accessToken, map[string]any{
		"mfaEnabled": enabled,
		"mfaMethod":  method,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LogoutAll(ctx context.Context, accessToken string) error {
	return c.do(ctx, api.AuthLogoutAll, accessToken, nil, nil)
}

func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var out User
	if err := c.do(ctx, api.AuthMe, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, pattern, bearer string, in, out any) error {
	method, path, _ := strings.Cut(pattern, " ")

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else if method != http.MethodGet {
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
			Field string `json:"field"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
			apiErr.Field = payload.Field
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
