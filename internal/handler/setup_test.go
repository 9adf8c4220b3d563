package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/mshop/internal/handler"
	"github.com/xxxsen/mshop/internal/middleware"
	"github.com/xxxsen/mshop/internal/pkg/password"
	"github.com/xxxsen/mshop/internal/ratelimit"
	"github.com/xxxsen/mshop/internal/service"
	"github.com/xxxsen/mshop/internal/testutil"
)

var jwtSecret = []byte("test-secret")

type stores interface {
	service.UserStore
	service.TokenStore
	service.TxRunner
}

type testEnv struct {
	router   http.Handler
	notifier *testutil.Notifier
}

func setupRouter(t *testing.T, store stores, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := password.NewHasher(password.Config{MemoryKB: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	require.NoError(t, err)
	notifier := &testutil.Notifier{}
	authService, err := service.NewAuthService(store, service.NewTokenService(store), store, hasher, notifier, service.AuthConfig{
		JWTSecret: jwtSecret,
		JWTTTL:    time.Hour,
	})
	require.NoError(t, err)
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	deps := handler.RouterDeps{
		Auth:      handler.NewAuthHandler(authService),
		Limiter:   limiter,
		JWTSecret: jwtSecret,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return &testEnv{router: engine, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data struct {
		User    map[string]interface{} `json:"user"`
		Token   string                 `json:"token"`
		Message string                 `json:"message"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func requireErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	out := decode(t, w)
	require.NotNil(t, out.Error)
	require.Equal(t, code, out.Error.Code)
}
