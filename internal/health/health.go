package health

import (
	"context"
	"net/http"
	"time"

	"ghosttrack/internal/models"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// RegisterRoutes: только liveness (in-memory режим, readiness всегда ок).
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", live).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", live).Methods(http.MethodGet, http.MethodHead)
}

// RegisterRoutesWithDB: /readyz пингует БД.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB) {
	r.HandleFunc("/healthz", live).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			models.WriteProblem(w, http.StatusServiceUnavailable, "Not ready", "database unreachable", nil)
			return
		}
		models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready", "db": db.Dialector.Name()})
	}).Methods(http.MethodGet, http.MethodHead)
}

func live(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
