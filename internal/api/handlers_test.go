package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ghosttrack/internal/accounts"
	"ghosttrack/internal/auth"
	"ghosttrack/internal/checkin"
	"ghosttrack/internal/commands"
	"ghosttrack/internal/evidence"
	"ghosttrack/internal/geoip"
	"ghosttrack/internal/identity"
	"ghosttrack/internal/ledger"
	"ghosttrack/internal/lifecycle"
	"ghosttrack/internal/recovery"
	"ghosttrack/internal/whereabouts"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type server struct {
	t      *testing.T
	router *mux.Router
}

func newServer(t *testing.T) *server {
	t.Helper()
	tokens := auth.NewTokens("test-secret", time.Hour)
	acc := accounts.NewService(accounts.NewMemStore(), tokens).WithCost(bcrypt.MinCost)
	reg := identity.NewRegistry(nil)
	coord := recovery.NewCoordinator(reg, lifecycle.NewMachine(reg, nil), ledger.New(nil, 0, 0),
		commands.NewQueue(nil, reg, acc), evidence.NewLocker(nil, 0))

	var loc *geoip.Locator
	r := mux.NewRouter()
	NewHTTP(coord, acc, whereabouts.NewBook(nil), tokens, loc).RegisterRoutes(r)
	checkin.RegisterRoutes(r, coord, loc)
	return &server{t: t, router: r}
}

func (s *server) do(method, path, token, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (s *server) json(method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	return s.do(method, path, token, "application/json", body)
}

func (s *server) signup(email string) string {
	s.t.Helper()
	form := url.Values{"email": {email}, "password": {"correct-horse"}}.Encode()
	rec, out := s.do(http.MethodPost, "/api/register", "", "application/x-www-form-urlencoded", form)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["token"].(string)
}

func TestOwnerFlow(t *testing.T) {
	s := newServer(t)
	a1 := s.signup("one@example.com")
	a2 := s.signup("two@example.com")

	rec, _ := s.json(http.MethodPost, "/api/register-device-antitheft", "", `{"hardwareId":"HW1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out := s.json(http.MethodPost, "/api/register-device-antitheft", a1,
		`{"hardwareId":"HW1","deviceInfo":{"model":"Pixel"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["registered"])
	assert.Equal(t, true, out["created"])

	_, out = s.json(http.MethodGet, "/api/check-device-status?hardwareId=HW1", "", "")
	assert.Equal(t, "registered", out["status"])
	_, out = s.json(http.MethodGet, "/api/check-device-status?hardwareId=nope", "", "")
	assert.Equal(t, "unknown", out["status"])

	// a stranger cannot report or read the device
	form := url.Values{"hardwareId": {"HW1"}, "email": {"two@example.com"}}.Encode()
	rec, _ = s.do(http.MethodPost, "/api/report-stolen", a2, "application/x-www-form-urlencoded", form)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	rec, _ = s.json(http.MethodGet, "/api/device-info?hardwareId=HW1", a2, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = s.json(http.MethodGet, "/api/stolen-device-locations?hardwareId=HW1", a2, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	form = url.Values{"hardwareId": {"HW1"}, "email": {"one@example.com"}, "phone": {"+100"}}.Encode()
	for i := 0; i < 2; i++ {
		rec, out = s.do(http.MethodPost, "/api/report-stolen", a1, "application/x-www-form-urlencoded", form)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, i == 0, out["created"])
	}

	rec, out = s.json(http.MethodPost, "/api/register-device-antitheft", a2,
		`{"hardwareId":"HW1","deviceInfo":{"lastKnownPosition":{"latitude":52.5,"longitude":13.4}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stolen_recovery_mode", out["status"])

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/__system__/device-checkin",
		strings.NewReader(`{"h":"HW1","a":52.6,"o":13.5}`)))
	assert.Equal(t, `{"s":1}`, rec.Body.String())

	// dashboard GETs may carry the token in the query
	rec, out = s.json(http.MethodGet, "/api/stolen-device-locations?hardwareId=HW1&limit=10&token="+a1, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	locs := out["locations"].([]any)
	require.Len(t, locs, 2)
	newest := locs[0].(map[string]any)
	assert.Equal(t, 52.6, newest["latitude"])
	assert.NotContains(t, newest, "ip")

	rec, out = s.json(http.MethodGet, "/api/device-info?hardwareId=HW1&token="+a1, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stolen", out["status"])
	assert.Equal(t, "one@example.com", out["ownerEmail"])
	assert.NotNil(t, out["lastLocation"])

	rec, _ = s.json(http.MethodGet, "/api/stolen-device-locations?hardwareId=HW1&limit=x&token="+a1, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoteActions(t *testing.T) {
	s := newServer(t)
	a1 := s.signup("one@example.com")
	a2 := s.signup("two@example.com")
	_, _ = s.json(http.MethodPost, "/api/register-device-antitheft", a1, `{"hardwareId":"HW1"}`)

	rec, _ := s.json(http.MethodPost, "/api/remote-action", a2, `{"hardwareId":"HW1","action":"alarm"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.json(http.MethodPost, "/api/remote-action", a1, `{"hardwareId":"HW1","action":"selfdestruct"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.json(http.MethodPost, "/api/remote-action", a1, `{"hardwareId":"HW1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.json(http.MethodPost, "/api/remote-action", a1, `{"hardwareId":"HW1","action":"wipe","password":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out := s.json(http.MethodPost, "/api/remote-action", a1, `{"hardwareId":"HW1","action":"message","message":"call me"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := out["commandId"].(float64)
	rec, _ = s.json(http.MethodPost, "/api/remote-action", a1, `{"hardwareId":"HW1","action":"wipe","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, out = s.json(http.MethodGet, "/api/device-commands?hardwareId=HW1", "", "")
	cmds := out["commands"].([]any)
	require.Len(t, cmds, 2)
	assert.Equal(t, "message", cmds[0].(map[string]any)["type"])
	assert.Equal(t, "call me", cmds[0].(map[string]any)["data"].(map[string]any)["message"])

	for i := 0; i < 2; i++ {
		rec, _ = s.json(http.MethodPost, "/api/device-command-executed", "",
			`{"commandId":`+jsonNum(first)+`,"result":{"shown":true}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ = s.json(http.MethodPost, "/api/device-command-executed", "", `{"commandId":"12345"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.json(http.MethodPost, "/api/device-command-executed", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, out = s.json(http.MethodGet, "/api/device-commands?hardwareId=HW1", "", "")
	cmds = out["commands"].([]any)
	require.Len(t, cmds, 1)
	assert.Equal(t, "wipe", cmds[0].(map[string]any)["type"])

	_, out = s.json(http.MethodGet, "/api/device-commands?hardwareId=HW2", "", "")
	assert.Empty(t, out["commands"])
}

func TestLogin(t *testing.T) {
	s := newServer(t)
	s.signup("one@example.com")

	rec, out := s.json(http.MethodPost, "/api/login", "", `{"email":"one@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["token"])

	rec, _ = s.json(http.MethodPost, "/api/login", "", `{"email":"one@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/register", "", "application/x-www-form-urlencoded",
		url.Values{"email": {"one@example.com"}, "password": {"correct-horse"}}.Encode())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestSchema(t *testing.T) {
	s := newServer(t)
	a1 := s.signup("one@example.com")

	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"id not a string", "/api/remote-action", `{"hardwareId":42,"action":"alarm"}`, "hardwareId"},
		{"missing action", "/api/remote-action", `{"hardwareId":"HW1"}`, "action"},
		{"duration not int", "/api/remote-action", `{"hardwareId":"HW1","action":"alarm","duration":"long"}`, "duration"},
		{"missing device id", "/api/register-device-antitheft", `{"deviceInfo":{}}`, "hardwareId"},
		{"bad recovery email", "/api/report-stolen", `{"hardwareId":"HW1","email":"nope"}`, "email"},
		{"latitude range", "/api/location", `{"latitude":91,"longitude":0,"timestamp":"2026-09-01T10:00:00Z"}`, "latitude"},
		{"missing longitude", "/api/location", `{"latitude":1,"timestamp":"2026-09-01T10:00:00Z"}`, "longitude"},
		{"bad timestamp", "/api/location", `{"latitude":1,"longitude":1,"timestamp":"noon"}`, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := s.json(http.MethodPost, tt.path, a1, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			errs, _ := out["errors"].(map[string]any)
			assert.Contains(t, errs, tt.field)
		})
	}

	rec, out := s.do(http.MethodPost, "/api/register", "", "application/x-www-form-urlencoded",
		url.Values{"email": {"not-an-email"}, "password": {"correct-horse"}}.Encode())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["errors"], "email")
}

func TestOwnerLocation(t *testing.T) {
	s := newServer(t)
	a1 := s.signup("one@example.com")
	a2 := s.signup("two@example.com")

	rec, _ := s.json(http.MethodPost, "/api/location", "", `{"latitude":1,"longitude":2,"timestamp":"2026-09-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out := s.json(http.MethodGet, "/api/location?token="+a1, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_location_found", out["status"])

	rec, _ = s.json(http.MethodPost, "/api/location", a1, `{"latitude":52.5,"longitude":13.4,"timestamp":"2026-09-01T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = s.json(http.MethodPost, "/api/location", a1, `{"latitude":0,"longitude":0,"timestamp":"2026-09-01T09:00:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, out = s.json(http.MethodGet, "/api/location?token="+a1, "", "")
	assert.Equal(t, 52.5, out["latitude"])
	assert.Equal(t, 13.4, out["longitude"])
	assert.NotContains(t, out, "status")

	_, out = s.json(http.MethodGet, "/api/location", a2, "")
	assert.Equal(t, "no_location_found", out["status"])
}

func jsonNum(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
