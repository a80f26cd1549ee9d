//go:build acceptance

package acceptance

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/prperemyshlev/eduportal-auth/internal/dto"
)

func (s *Suite) do(client *http.Client, method, path string, body any, accessToken string) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, s.BaseURL+path, &buf)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := client.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *Suite) decode(resp *http.Response, out any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *Suite) status(resp *http.Response) int {
	resp.Body.Close()
	return resp.StatusCode
}

func (s *Suite) register(client *http.Client, email, password string) dto.UserResponse {
	resp := s.do(client, http.MethodPost, "/api/v1/auth/register",
		dto.RegisterRequest{Email: email, Password: password}, "")
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var user dto.UserResponse
	s.decode(resp, &user)
	return user
}

func (s *Suite) login(client *http.Client, email, password string) dto.AuthResponse {
	resp := s.do(client, http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: email, Password: password}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var auth dto.AuthResponse
	s.decode(resp, &auth)
	return auth
}

func (s *Suite) sessionCount(accessToken string) int {
	resp := s.do(s.newClient(), http.MethodGet, "/api/v1/auth/sessions", nil, accessToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var sessions dto.SessionsResponse
	s.decode(resp, &sessions)
	return sessions.Count
}

func (s *Suite) TestRegister_Success() {
	user := s.register(s.newClient(), "Test@Example.com", "Password123")

	s.NotEmpty(user.ID)
	s.Equal("test@example.com", user.Email)
	s.Equal("test", user.Name)
	s.Equal("student", user.Role)
	s.True(user.HasPassword)
}

func (s *Suite) TestRegister_DuplicateEmailIgnoresCase() {
	client := s.newClient()
	s.register(client, "duplicate@example.com", "Password123")

	resp := s.do(client, http.MethodPost, "/api/v1/auth/register",
		dto.RegisterRequest{Email: "DUPLICATE@example.com", Password: "Password123"}, "")

	s.Equal(http.StatusConflict, resp.StatusCode)
	var errResp dto.ErrorResponse
	s.decode(resp, &errResp)
	s.Equal("Conflict", errResp.Error)
}

func (s *Suite) TestRegister_Validation() {
	client := s.newClient()

	s.Equal(http.StatusBadRequest, s.status(s.do(client, http.MethodPost, "/api/v1/auth/register",
		dto.RegisterRequest{Email: "invalid-email", Password: "Password123"}, "")))
	s.Equal(http.StatusBadRequest, s.status(s.do(client, http.MethodPost, "/api/v1/auth/register",
		dto.RegisterRequest{Email: "test@example.com", Password: "short"}, "")))
	s.Equal(http.StatusBadRequest, s.status(s.do(client, http.MethodPost, "/api/v1/auth/register",
		dto.RegisterRequest{Email: "test@example.com", Password: "Password123", Role: "admin"}, "")))
}

func (s *Suite) TestLogin_Success() {
	client := s.newClient()
	s.register(client, "login@example.com", "Password123")

	auth := s.login(client, "LOGIN@example.com", "Password123")

	s.NotEmpty(auth.AccessToken)
	s.NotEmpty(auth.RefreshToken)
	s.Equal("Bearer", auth.TokenType)
	s.Equal(900, auth.ExpiresIn)
	s.Equal("login@example.com", auth.User.Email)
	s.NotNil(auth.User.LastLoginAt)
}

func (s *Suite) TestLogin_FailuresAreIndistinguishable() {
	client := s.newClient()
	s.register(client, "user@example.com", "Password123")

	wrongPassword := s.do(client, http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "user@example.com", Password: "WrongPassword1"}, "")
	unknownEmail := s.do(client, http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "nobody@example.com", Password: "Password123"}, "")

	var a, b dto.ErrorResponse
	s.Equal(http.StatusUnauthorized, wrongPassword.StatusCode)
	s.Equal(http.StatusUnauthorized, unknownEmail.StatusCode)
	s.decode(wrongPassword, &a)
	s.decode(unknownEmail, &b)
	s.Equal(a, b)
}

func (s *Suite) TestMe() {
	client := s.newClient()
	s.register(client, "me@example.com", "Password123")
	auth := s.login(client, "me@example.com", "Password123")

	resp := s.do(client, http.MethodGet, "/api/v1/auth/me", nil, auth.AccessToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var user dto.UserResponse
	s.decode(resp, &user)
	s.Equal(auth.User.ID, user.ID)

	s.Equal(http.StatusUnauthorized, s.status(s.do(client, http.MethodGet, "/api/v1/auth/me", nil, "")))
	s.Equal(http.StatusUnauthorized, s.status(s.do(client, http.MethodGet, "/api/v1/auth/me", nil, "not-a-jwt")))
}

func (s *Suite) TestRefresh_RotatesToken() {
	client := s.newClient()
	s.register(client, "refresh@example.com", "Password123")
	auth := s.login(client, "refresh@example.com", "Password123")

	resp := s.do(s.newClient(), http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: auth.RefreshToken}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var pair dto.TokenResponse
	s.decode(resp, &pair)
	s.NotEqual(auth.RefreshToken, pair.RefreshToken)
	s.NotEmpty(pair.AccessToken)

	s.Equal(http.StatusUnauthorized, s.status(s.do(s.newClient(), http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: auth.RefreshToken}, "")), "rotated token is dead")

	s.Equal(1, s.sessionCount(pair.AccessToken))
}

func (s *Suite) TestRefresh_UsesCookie() {
	client := s.newClient()
	s.register(client, "cookie@example.com", "Password123")
	s.login(client, "cookie@example.com", "Password123")

	resp := s.do(client, http.MethodPost, "/api/v1/auth/refresh", nil, "")
	s.Equal(http.StatusOK, s.status(resp))
}

func (s *Suite) TestLogout() {
	client := s.newClient()
	s.register(client, "logout@example.com", "Password123")
	auth := s.login(client, "logout@example.com", "Password123")

	s.Equal(http.StatusOK, s.status(s.do(client, http.MethodPost, "/api/v1/auth/logout",
		dto.RefreshRequest{RefreshToken: auth.RefreshToken}, auth.AccessToken)))

	s.Equal(http.StatusUnauthorized, s.status(s.do(s.newClient(), http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: auth.RefreshToken}, "")))
}

func (s *Suite) TestSessions_CountAndRevokeAll() {
	s.register(s.newClient(), "multi@example.com", "Password123")

	var last dto.AuthResponse
	for i := 0; i < 3; i++ {
		last = s.login(s.newClient(), "multi@example.com", "Password123")
	}
	s.Equal(3, s.sessionCount(last.AccessToken))

	resp := s.do(s.newClient(), http.MethodDelete, "/api/v1/auth/sessions", nil, last.AccessToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var revoked dto.RevokeSessionsResponse
	s.decode(resp, &revoked)
	s.Equal(3, revoked.Revoked)

	s.Equal(0, s.sessionCount(last.AccessToken))
}

func (s *Suite) TestChangePassword_RevokesSessions() {
	client := s.newClient()
	s.register(client, "change@example.com", "Password123")
	auth := s.login(client, "change@example.com", "Password123")
	s.login(s.newClient(), "change@example.com", "Password123")

	s.Equal(http.StatusUnauthorized, s.status(s.do(client, http.MethodPost, "/api/v1/auth/password/change",
		dto.ChangePasswordRequest{CurrentPassword: "Wrong1234", NewPassword: "NewPassword123"}, auth.AccessToken)))

	s.Equal(http.StatusOK, s.status(s.do(client, http.MethodPost, "/api/v1/auth/password/change",
		dto.ChangePasswordRequest{CurrentPassword: "Password123", NewPassword: "NewPassword123", RevokeAllSessions: true},
		auth.AccessToken)))

	s.Equal(0, s.sessionCount(auth.AccessToken))
	s.login(s.newClient(), "change@example.com", "NewPassword123")
}

func (s *Suite) TestPasswordReset() {
	client := s.newClient()
	s.register(client, "reset@example.com", "Password123")
	auth := s.login(client, "reset@example.com", "Password123")

	resp := s.do(client, http.MethodPost, "/api/v1/auth/password/forgot",
		dto.ForgotPasswordRequest{Email: "reset@example.com"}, "")
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	var forgot dto.ForgotPasswordResponse
	s.decode(resp, &forgot)
	s.Require().NotEmpty(forgot.ResetToken)

	reset := dto.ResetPasswordRequest{Token: forgot.ResetToken, NewPassword: "ResetPassword123"}
	s.Equal(http.StatusOK, s.status(s.do(client, http.MethodPost, "/api/v1/auth/password/reset", reset, "")))
	s.Equal(http.StatusUnauthorized, s.status(s.do(client, http.MethodPost, "/api/v1/auth/password/reset", reset, "")),
		"grant is single use")

	s.Equal(http.StatusUnauthorized, s.status(s.do(s.newClient(), http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: auth.RefreshToken}, "")), "sessions are revoked by a reset")

	s.login(s.newClient(), "reset@example.com", "ResetPassword123")
}

func (s *Suite) TestForgotPassword_UnknownEmail() {
	resp := s.do(s.newClient(), http.MethodPost, "/api/v1/auth/password/forgot",
		dto.ForgotPasswordRequest{Email: "nobody@example.com"}, "")
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var forgot dto.ForgotPasswordResponse
	s.decode(resp, &forgot)
	s.Empty(forgot.ResetToken)
}

func (s *Suite) TestOAuth_NoProvidersConfigured() {
	client := s.newClient()
	s.register(client, "fed@example.com", "Password123")
	auth := s.login(client, "fed@example.com", "Password123")

	s.Equal(http.StatusNotFound, s.status(s.do(client, http.MethodGet, "/api/v1/oauth/google/login", nil, "")))

	resp := s.do(client, http.MethodGet, "/api/v1/oauth/accounts", nil, auth.AccessToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var accounts []dto.OAuthAccountResponse
	s.decode(resp, &accounts)
	s.Empty(accounts)
}
