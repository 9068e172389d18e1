package checkin

import (
	"context"
	"encoding/json"
	"net/http"

	"ghosttrack/internal/identity"
	"ghosttrack/internal/ledger"
	"ghosttrack/internal/logs"
	"ghosttrack/internal/recovery"
	"ghosttrack/internal/validate"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

/*
Device-facing endpoints. Every request gets the same answer:

POST /api/__system__/device-checkin       {"h":..., "a":lat, "o":lon}
POST /api/__system__/factory-reset-alert  {"originalHardwareId", "newHardwareId", "position", "deviceInfo", "timestamp"}
POST /api/__system__/upload-photo         {"hardwareId", "photoData"}

    200 {"s":1}

A holder of the device must not be able to tell from the response whether
the id is known, flagged, or whether the payload was even parsed.
*/

const (
	maxBodyBytes      = 64 << 10
	maxPhotoBodyBytes = 8 << 20
)

var ackBody = []byte(`{"s":1}`)

// Recorder: то, что протокол вызывает внутри; ошибки только логируются.
type Recorder interface {
	CheckIn(ctx context.Context, in recovery.CheckIn) error
	FactoryReset(ctx context.Context, in recovery.ResetAlert) error
	UploadPhoto(ctx context.Context, hardwareID, data string) error
}

// ConnectionSource снимает метаданные клиента (IP, UA, GeoIP).
type ConnectionSource interface {
	Connection(r *http.Request, source string) ledger.ConnectionInfo
}

type Protocol struct {
	rec  Recorder
	conn ConnectionSource
}

func NewProtocol(rec Recorder, conn ConnectionSource) *Protocol {
	return &Protocol{rec: rec, conn: conn}
}

func (p *Protocol) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ackBody)
}

func (p *Protocol) connection(r *http.Request, source string) ledger.ConnectionInfo {
	if p.conn == nil {
		return ledger.ConnectionInfo{Source: source}
	}
	return p.conn.Connection(r, source)
}

func (p *Protocol) swallow(r *http.Request, op string, err error) {
	if err == nil {
		return
	}
	logs.Logger.WithFields(logrus.Fields{"op": op, "path": r.URL.Path}).WithError(err).Warn("device request dropped")
}

// POST /api/__system__/device-checkin
func (p *Protocol) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	defer p.ack(w)

	// все три поля обязательны; нулевые координаты допустимы
	var in struct {
		H   string   `json:"h" validate:"required,max=128"`
		A   *float64 `json:"a" validate:"required"`
		O   *float64 `json:"o" validate:"required"`
		Acc *float64 `json:"acc"`
	}
	if err := decode(w, r, maxBodyBytes, &in); err != nil {
		p.swallow(r, "checkin", err)
		return
	}
	conn := p.connection(r, "checkin")
	if in.Acc != nil {
		conn.Accuracy = *in.Acc
	}
	p.swallow(r, "checkin", p.rec.CheckIn(r.Context(), recovery.CheckIn{
		HardwareID: in.H,
		Latitude:   *in.A,
		Longitude:  *in.O,
		Conn:       conn,
	}))
}

type position struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp string   `json:"timestamp"`
}

// POST /api/__system__/factory-reset-alert
func (p *Protocol) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	defer p.ack(w)

	var in struct {
		OriginalHardwareID string         `json:"originalHardwareId" validate:"required,max=128"`
		NewHardwareID      string         `json:"newHardwareId" validate:"required,max=128,nefield=OriginalHardwareID"`
		Position           *position      `json:"position"`
		DeviceInfo         map[string]any `json:"deviceInfo"`
		Timestamp          string         `json:"timestamp"`
	}
	if err := decode(w, r, maxBodyBytes, &in); err != nil {
		p.swallow(r, "factory-reset", err)
		return
	}

	alert := recovery.ResetAlert{
		OriginalID: in.OriginalHardwareID,
		NewID:      in.NewHardwareID,
		Info:       identity.Info(in.DeviceInfo),
		At:         ledger.ParseTime(in.Timestamp),
		Conn:       p.connection(r, "reset"),
	}
	if pos := in.Position; pos != nil && pos.Latitude != nil && pos.Longitude != nil {
		alert.Position = &recovery.Position{
			Latitude:  *pos.Latitude,
			Longitude: *pos.Longitude,
			At:        ledger.ParseTime(pos.Timestamp),
		}
		if pos.Accuracy != nil {
			alert.Conn.Accuracy = *pos.Accuracy
		}
	}
	p.swallow(r, "factory-reset", p.rec.FactoryReset(r.Context(), alert))
}

// POST /api/__system__/upload-photo
func (p *Protocol) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	defer p.ack(w)

	var in struct {
		HardwareID string `json:"hardwareId" validate:"required,max=128"`
		PhotoData  string `json:"photoData" validate:"required"`
	}
	if err := decode(w, r, maxPhotoBodyBytes, &in); err != nil {
		p.swallow(r, "upload-photo", err)
		return
	}
	p.swallow(r, "upload-photo", p.rec.UploadPhoto(r.Context(), in.HardwareID, in.PhotoData))
}

// decode читает и валидирует тело; любая ошибка только логируется.
func decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	return validate.JSON(json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)), dst)
}

// noStoreMW: ответы протокола не кешируются ни клиентом, ни прокси.
func noStoreMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ─────────────────────────── route registrar ───────────────────────────

func RegisterRoutes(root *mux.Router, rec Recorder, conn ConnectionSource) {
	p := NewProtocol(rec, conn)

	sub := root.PathPrefix("/api/__system__").Subrouter()
	sub.Use(noStoreMW)

	sub.HandleFunc("/device-checkin", p.handleCheckIn).Methods(http.MethodPost)
	sub.HandleFunc("/factory-reset-alert", p.handleFactoryReset).Methods(http.MethodPost)
	sub.HandleFunc("/upload-photo", p.handleUploadPhoto).Methods(http.MethodPost)
}
