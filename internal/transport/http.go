package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/handler"
	"github.com/vasiliy-maslov/storefront/order-service/internal/inventory"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
	"github.com/vasiliy-maslov/storefront/order-service/internal/ratelimit"
)

type Deps struct {
	Orders   order.Service
	Products inventory.Store
	Verifier *auth.TokenVerifier
	// Limiter guards order creation; nil disables it.
	Limiter *ratelimit.Limiter
}

func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	authn := auth.Authenticate(deps.Verifier)

	var createGuards []func(http.Handler) http.Handler
	if deps.Limiter != nil {
		createGuards = append(createGuards, deps.Limiter.Middleware)
	}

	orderHandler := handler.NewOrderHandler(deps.Orders)
	productHandler := handler.NewProductHandler(deps.Products)

	r.Route("/api", func(api chi.Router) {
		productHandler.RegisterRoutes(api, authn)
		api.Group(func(private chi.Router) {
			private.Use(authn)
			orderHandler.RegisterRoutes(private, createGuards...)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		event := log.Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
