package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/orderdesk-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса управления
// заказами. Всё API живёт на одном endpoint: действие выбирается параметром
// action.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api", h.Dispatch)
	r.Post("/api", h.Dispatch)
	r.Delete("/api", h.Dispatch)

	// OPTIONS без заголовков preflight минует cors-middleware; отвечаем
	// пустым 200, как и на настоящий preflight.
	r.Options("/api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
