package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mshop/internal/model"
	"github.com/xxxsen/mshop/internal/ratelimit"
	"github.com/xxxsen/mshop/internal/testutil"
)

func registerAndVerify(t *testing.T, env *testEnv, email, pwd string) {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": email, "password": pwd}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": env.notifier.Last(model.TokenKindVerification)}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func login(t *testing.T, env *testEnv, email, pwd string) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": pwd}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode(t, w).Data.Token
	require.NotEmpty(t, token)
	return token
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "a@x.com", "password": "secret1", "first_name": "Ann", "last_name": "Lee",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	require.Equal(t, "a@x.com", out.Data.User["email"])
	require.Equal(t, false, out.Data.User["email_verified"])
	require.NotContains(t, w.Body.String(), "password")
	token := env.notifier.Last(model.TokenKindVerification)
	require.NotEmpty(t, token)

	w = env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "A@x.com", "password": "secret1"}, "")
	requireErrorCode(t, w, http.StatusConflict, "conflict")

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	requireErrorCode(t, w, http.StatusUnauthorized, "email_not_verified")

	wrong := "0000000000000000000000000000000000000000000000000000000000000000"
	w = env.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": wrong}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "token_invalid")

	w = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": token}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "token_invalid")

	jwtToken := login(t, env, "a@x.com", "secret1")
	w = env.do(t, http.MethodGet, "/api/v1/auth/profile", nil, jwtToken)
	require.Equal(t, http.StatusOK, w.Code)
	out = decode(t, w)
	require.Equal(t, true, out.Data.User["email_verified"])
	require.Equal(t, "Ann", out.Data.User["first_name"])
}

func TestRegisterValidation(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "not-an-email", "password": "secret1"}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "invalid")

	w = env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "a@x.com", "password": "123"}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "weak_password")
}

func TestLoginDoesNotEnumerate(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	registerAndVerify(t, env, "a@x.com", "secret1")

	unknown := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "nobody@x.com", "password": "secret1"}, "")
	wrong := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "wrong-pass"}, "")
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, unknown.Code, wrong.Code)
	require.Equal(t, unknown.Body.String(), wrong.Body.String())
}

func TestResendAndForgotDoNotEnumerate(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	w := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/v1/auth/resend-verification", "/api/v1/auth/forgot-password"} {
		known := env.do(t, http.MethodPost, path, map[string]string{"email": "a@x.com"}, "")
		unknown := env.do(t, http.MethodPost, path, map[string]string{"email": "nobody@x.com"}, "")
		require.Equal(t, http.StatusOK, known.Code, known.Body.String())
		require.Equal(t, known.Code, unknown.Code)
		require.Equal(t, known.Body.String(), unknown.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": env.notifier.Last(model.TokenKindVerification)}, "")
	require.Equal(t, http.StatusOK, w.Code)
	verified := env.do(t, http.MethodPost, "/api/v1/auth/resend-verification", map[string]string{"email": "a@x.com"}, "")
	unknown := env.do(t, http.MethodPost, "/api/v1/auth/resend-verification", map[string]string{"email": "nobody@x.com"}, "")
	require.Equal(t, verified.Body.String(), unknown.Body.String())
}

func TestNotifyFailureSurfacesOnForgot(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	registerAndVerify(t, env, "a@x.com", "secret1")
	env.notifier.Fail = true

	w := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "a@x.com"}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "notify_failed")

	w = env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@x.com"}, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestForgotResetFlow(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	registerAndVerify(t, env, "a@x.com", "secret1")

	forgot := func() string {
		w := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "a@x.com"}, "")
		require.Equal(t, http.StatusOK, w.Code)
		return env.notifier.Last(model.TokenKindReset)
	}
	first := forgot()
	second := forgot()
	require.NotEqual(t, first, second)

	reset := func(token, pwd string) int {
		w := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": token, "new_password": pwd}, "")
		return w.Code
	}
	require.Equal(t, http.StatusBadRequest, reset(first, "new1xx"))
	require.Equal(t, http.StatusOK, reset(second, "new1xx"))
	require.Equal(t, http.StatusBadRequest, reset(second, "new2xx"))

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	requireErrorCode(t, w, http.StatusUnauthorized, "unauthorized")
	login(t, env, "a@x.com", "new1xx")

	w = env.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": "short", "new_password": "new3xx"}, "")
	requireErrorCode(t, w, http.StatusBadRequest, "token_invalid")
}

func TestProfileRequiresToken(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	w := env.do(t, http.MethodGet, "/api/v1/auth/profile", nil, "")
	requireErrorCode(t, w, http.StatusUnauthorized, "unauthorized")
	w = env.do(t, http.MethodPut, "/api/v1/auth/change-password", map[string]string{"current_password": "a", "new_password": "b"}, "garbage")
	requireErrorCode(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestChangePassword(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), nil)
	registerAndVerify(t, env, "a@x.com", "secret1")
	token := login(t, env, "a@x.com", "secret1")

	change := func(current, next string) *testResponse {
		w := env.do(t, http.MethodPut, "/api/v1/auth/change-password", map[string]string{"current_password": current, "new_password": next}, token)
		return &testResponse{code: w.Code, body: decode(t, w)}
	}
	res := change("wrong1", "secret2")
	require.Equal(t, http.StatusBadRequest, res.code)
	require.Equal(t, "password_mismatch", res.body.Error.Code)

	res = change("secret1", "secret1")
	require.Equal(t, http.StatusBadRequest, res.code)
	require.Equal(t, "password_reused", res.body.Error.Code)

	res = change("secret1", "abc")
	require.Equal(t, http.StatusBadRequest, res.code)
	require.Equal(t, "weak_password", res.body.Error.Code)

	res = change("secret1", "secret2")
	require.Equal(t, http.StatusOK, res.code)
	login(t, env, "a@x.com", "secret2")
}

type testResponse struct {
	code int
	body envelope
}

func TestLoginRateLimited(t *testing.T) {
	env := setupRouter(t, testutil.NewMemStore(), ratelimit.NewMemoryLimiter(100, time.Hour))
	body := map[string]string{"email": "nobody@x.com", "password": "secret1"}
	for i := 0; i < 5; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
	requireErrorCode(t, w, http.StatusTooManyRequests, "too_many_requests")

	w = env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@x.com"}, "")
	require.Equal(t, http.StatusOK, w.Code)
}
