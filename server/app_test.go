package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"ghosttrack/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Auth.JWTSecret = "test"
	cfg.Logging.Level = "error"
	if driver == "sqlite" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")
	}
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInitializeWiresRoutes(t *testing.T) {
	for _, driver := range []string{"", "sqlite"} {
		t.Run("driver="+driver, func(t *testing.T) {
			var app App
			app.Initialize(testConfig(t, driver))
			t.Cleanup(app.close)
			h := app.Router

			assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
			assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", "").Code)

			rec := do(t, h, http.MethodPost, "/api/__system__/device-checkin", `{"h":"HW1","a":1,"o":2}`, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"s":1}`, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			form := url.Values{"email": {"o@example.com"}, "password": {"hunter2hunter2"}}.Encode()
			rec = do(t, h, http.MethodPost, "/api/register", form, "")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			assert.Equal(t, http.StatusUnauthorized,
				do(t, h, http.MethodGet, "/api/device-info?hardwareId=HW1", "", "").Code)
		})
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	var app App
	assert.ErrorIs(t, app.Run(), ErrNotInitialized)
}
