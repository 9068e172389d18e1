// Package api is the owner dashboard and device polling HTTP surface.
// Errors are rendered as application/problem+json.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ghosttrack/internal/accounts"
	"ghosttrack/internal/apperr"
	"ghosttrack/internal/auth"
	"ghosttrack/internal/checkin"
	"ghosttrack/internal/commands"
	"ghosttrack/internal/identity"
	"ghosttrack/internal/ledger"
	"ghosttrack/internal/lifecycle"
	"ghosttrack/internal/logs"
	"ghosttrack/internal/models"
	"ghosttrack/internal/recovery"
	"ghosttrack/internal/validate"
	"ghosttrack/internal/whereabouts"

	"github.com/gorilla/mux"
)

const maxJSONBody = 1 << 20

type HTTP struct {
	coord    *recovery.Coordinator
	accounts *accounts.Service
	places   *whereabouts.Book
	tokens   *auth.Tokens
	conn     checkin.ConnectionSource
}

func NewHTTP(coord *recovery.Coordinator, acc *accounts.Service, places *whereabouts.Book, tokens *auth.Tokens, conn checkin.ConnectionSource) *HTTP {
	if places == nil {
		places = whereabouts.NewBook(nil)
	}
	return &HTTP{coord: coord, accounts: acc, places: places, tokens: tokens, conn: conn}
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	owner := h.tokens.RequireOwner

	// accounts
	api.HandleFunc("/register", h.registerAccount).Methods(http.MethodPost)
	api.HandleFunc("/login", h.login).Methods(http.MethodPost)

	// owner
	api.Handle("/register-device-antitheft", owner(http.HandlerFunc(h.registerDevice))).Methods(http.MethodPost)
	api.Handle("/report-stolen", owner(http.HandlerFunc(h.reportStolen))).Methods(http.MethodPost)
	api.Handle("/device-info", owner(http.HandlerFunc(h.deviceInfo))).Methods(http.MethodGet)
	api.Handle("/stolen-device-locations", owner(http.HandlerFunc(h.locations))).Methods(http.MethodGet)
	api.Handle("/remote-action", owner(http.HandlerFunc(h.remoteAction))).Methods(http.MethodPost)
	api.Handle("/location", owner(http.HandlerFunc(h.saveLocation))).Methods(http.MethodPost)
	api.Handle("/location", owner(http.HandlerFunc(h.latestLocation))).Methods(http.MethodGet)

	// device / public
	api.HandleFunc("/check-device-status", h.checkStatus).Methods(http.MethodGet)
	api.HandleFunc("/device-commands", h.pollCommands).Methods(http.MethodGet)
	api.HandleFunc("/device-command-executed", h.commandExecuted).Methods(http.MethodPost)
}

/* --- accounts --- */

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *HTTP) registerAccount(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.accounts.Register(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, s)
}

func (h *HTTP) login(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, s)
}

/* --- owner --- */

type registerDeviceRequest struct {
	HardwareID string         `json:"hardwareId" validate:"required,max=128"`
	DeviceInfo map[string]any `json:"deviceInfo"`
}

// POST /api/register-device-antitheft
func (h *HTTP) registerDevice(w http.ResponseWriter, r *http.Request) {
	var in registerDeviceRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.coord.Register(r.Context(), recovery.Registration{
		AccountID:  auth.AccountFrom(r.Context()),
		HardwareID: in.HardwareID,
		Info:       identity.Info(in.DeviceInfo),
		Conn:       h.connection(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch res.Outcome {
	case recovery.OutcomeStolenRecover:
		models.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  string(res.Outcome),
			"message": "This device has been reported stolen. Location tracking has been activated.",
		})
	case recovery.OutcomeNotRegistered:
		models.WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "registered": false})
	default:
		models.WriteJSON(w, http.StatusOK, map[string]any{
			"status":       "success",
			"registered":   true,
			"created":      res.Created,
			"deviceStatus": res.Status,
		})
	}
}

type reportStolenRequest struct {
	HardwareID string `json:"hardwareId" validate:"required,max=128"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
}

// POST /api/report-stolen (form или JSON: hardwareId, email, phone)
func (h *HTTP) reportStolen(w http.ResponseWriter, r *http.Request) {
	var in reportStolenRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rec, created, err := h.coord.ReportStolen(r.Context(), auth.AccountFrom(r.Context()), in.HardwareID,
		lifecycle.Contact{Email: in.Email, Phone: in.Phone})
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"message":    "Device reported as stolen",
		"created":    created,
		"reportedAt": rec.ReportedAt,
	})
}

// GET /api/device-info?hardwareId=
func (h *HTTP) deviceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.coord.DeviceInfo(r.Context(), auth.AccountFrom(r.Context()), r.URL.Query().Get("hardwareId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, info)
}

// GET /api/stolen-device-locations?hardwareId=&limit=
func (h *HTTP) locations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	locs, err := h.coord.LocationHistory(r.Context(), auth.AccountFrom(r.Context()), q.Get("hardwareId"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"locations": locs})
}

type remoteActionRequest struct {
	HardwareID string  `json:"hardwareId" validate:"required,max=128"`
	Action     string  `json:"action" validate:"required,max=32"`
	Password   string  `json:"password" validate:"omitempty,max=72"`
	Message    *string `json:"message"`
	Duration   *int    `json:"duration"`
}

// payload: только поля, которые клиент прислал; дефолты и диапазоны у commands.
func (in remoteActionRequest) payload() commands.Payload {
	p := commands.Payload{}
	if in.Message != nil {
		p["message"] = *in.Message
	}
	if in.Duration != nil {
		p["duration"] = *in.Duration
	}
	return p
}

// POST /api/remote-action {"hardwareId", "action", "password"?, "message"?, "duration"?}
func (h *HTTP) remoteAction(w http.ResponseWriter, r *http.Request) {
	var in remoteActionRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	cmd, err := h.coord.EnqueueCommand(r.Context(), commands.Request{
		HardwareID:      in.HardwareID,
		IssuerAccountID: auth.AccountFrom(r.Context()),
		Kind:            commands.Kind(in.Action),
		Payload:         in.payload(),
		Password:        in.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   string(cmd.Kind) + " command sent to device",
		"commandId": cmd.ID,
	})
}

type saveLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp string   `json:"timestamp" validate:"required"`
}

// POST /api/location: позиция телефона самого владельца
func (h *HTTP) saveLocation(w http.ResponseWriter, r *http.Request) {
	var in saveLocationRequest
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	at := ledger.ParseTime(in.Timestamp)
	if at.IsZero() {
		writeError(w, r, apperr.InvalidFields(map[string]string{"timestamp": "must be an RFC 3339 time"}))
		return
	}
	if _, err := h.places.Save(r.Context(), auth.AccountFrom(r.Context()), *in.Latitude, *in.Longitude, at); err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Location saved successfully"})
}

// GET /api/location: последняя позиция владельца
func (h *HTTP) latestLocation(w http.ResponseWriter, r *http.Request) {
	fix, ok, err := h.places.Latest(r.Context(), auth.AccountFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		models.WriteJSON(w, http.StatusOK, map[string]any{
			"latitude":  0,
			"longitude": 0,
			"timestamp": time.Now().UTC(),
			"status":    "no_location_found",
			"message":   "No location data available yet. Please enable location services and try again.",
		})
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"latitude":  fix.Latitude,
		"longitude": fix.Longitude,
		"timestamp": fix.RecordedAt,
	})
}

/* --- device / public --- */

// GET /api/check-device-status?hardwareId=
func (h *HTTP) checkStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.coord.StatusOf(r.Context(), r.URL.Query().Get("hardwareId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": st})
}

type commandView struct {
	ID       uint64           `json:"id"`
	Type     commands.Kind    `json:"type"`
	Data     commands.Payload `json:"data"`
	IssuedAt time.Time        `json:"issuedAt"`
}

// GET /api/device-commands?hardwareId=
func (h *HTTP) pollCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.coord.PollCommands(r.Context(), r.URL.Query().Get("hardwareId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]commandView, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, commandView{ID: c.ID, Type: c.Kind, Data: c.Payload, IssuedAt: c.IssuedAt})
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"commands": out})
}

// POST /api/device-command-executed {"commandId", "result"}
func (h *HTTP) commandExecuted(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CommandID json.Number    `json:"commandId" validate:"required"`
		Result    map[string]any `json:"result"`
	}
	if err := bind(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := strconv.ParseUint(in.CommandID.String(), 10, 64)
	if err != nil || id == 0 {
		writeError(w, r, apperr.InvalidFields(map[string]string{"commandId": "must be a positive integer"}))
		return
	}
	if err := h.coord.AcknowledgeCommand(r.Context(), id, in.Result); err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

/* --- helpers --- */

func (h *HTTP) connection(r *http.Request) ledger.ConnectionInfo {
	if h.conn == nil {
		return ledger.ConnectionInfo{Source: "register"}
	}
	return h.conn.Connection(r, "register")
}

// bind decodes a JSON body, or a urlencoded/multipart form from the plain
// dashboard pages, into dst and validates it. Form values are strings only.
func bind(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" && ct != "multipart/form-data" {
		return validate.JSON(json.NewDecoder(body), dst)
	}
	r.Body = body
	if err := r.ParseMultipartForm(maxJSONBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return apperr.Validation("cannot parse form")
	}
	flat := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		flat[k] = r.PostForm.Get(k)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return apperr.Internal("encode form", err)
	}
	return validate.JSON(json.NewDecoder(bytes.NewReader(raw)), dst)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		logs.Logger.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		detail = "internal error"
	}
	models.WriteProblem(w, status, http.StatusText(status), detail, apperr.FieldsOf(err))
}
