package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"market-feed/internal/delivery/handler"
	"market-feed/internal/infrastructure/metrics"
)

// NewRouter builds the HTTP surface: the listing API, health and metrics.
func NewRouter(listingHandler *handler.ListingHandler, handlerMetrics *metrics.HandlerMetrics, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", listingHandler.Health)
	r.Handle("/metrics", handlerMetrics.HTTPHandler())

	r.Route("/api/listings", func(r chi.Router) {
		SetupListingRoutes(r, listingHandler)
	})

	return r
}

func SetupListingRoutes(listingRouter chi.Router, listingHandler *handler.ListingHandler) {
	listingRouter.Get("/", listingHandler.ListListings)
	listingRouter.Post("/", listingHandler.CreateListing)
	listingRouter.Get("/stream", listingHandler.Stream)
}
