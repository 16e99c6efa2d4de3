package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/agency-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса агентского баланса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.metrics))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/agencies/{id}", h.GetAgency)
		r.Post("/agencies/{id}/topups", h.CreateTopUp)

		r.Get("/topups", h.ListTopUps)
		r.Put("/topups/{id}", h.EditTopUp)
		r.Delete("/topups/{id}", h.DeleteTopUp)

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", h.ListReservations)
			r.Post("/", h.CreateReservation)
			r.Get("/tourists", h.TouristNames)
			r.Get("/{id}", h.GetReservation)
			r.Put("/{id}", h.UpdateReservation)
			r.Delete("/{id}", h.DeleteReservation)
			r.Post("/{id}/mark-paid", h.MarkPaid)
		})

		r.Get("/statistics", h.Statistics)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
