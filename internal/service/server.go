package service

import (
	"marketplace/internal/app"
	"marketplace/internal/pkg/auth"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/upload"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

// Service encapsulates the HTTP server configuration, including the coordinator,
// HTTP handlers, the server's run address, and a logger for event and error logging.
type Service struct {
	handlers   *handlers
	signer     *auth.Signer
	runAddress string
	log        *logger.Logger
}

// NewService creates and initializes a new Service instance.
func NewService(app *app.App, uploads *upload.Store, signer *auth.Signer, runAddress string, l *logger.Logger) *Service {
	handlers := newHandlers(app, uploads, l)
	return &Service{handlers: handlers, signer: signer, runAddress: runAddress, log: l}
}

// NewRouter sets up and returns a new chi.Router instance with the necessary middleware and routes.
// Listing, item details and item images are public; everything that acts for a principal requires a JWT.
func (service *Service) NewRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(service.log.WithLogging())
	router.Use(middleware.Recoverer)

	router.Post("/api/register", service.handlers.registerHandler)
	router.Post("/api/auth", service.handlers.authHandler)
	router.Get("/api/items", service.handlers.listItemsHandler)
	router.Get("/api/items/{id}", service.handlers.getItemHandler)
	router.Get(upload.URLPrefix+"*", service.handlers.uploads.Handler().ServeHTTP)

	router.Group(func(r chi.Router) {
		r.Use(service.signer.CheckJWTMiddleware())
		r.Get("/api/balance", service.handlers.balanceHandler)
		r.Post("/api/items", service.handlers.createItemHandler)
		r.Delete("/api/items/{id}", service.handlers.deleteItemHandler)
		r.Post("/api/items/{id}/buy", service.handlers.buyItemHandler)
	})
	return router
}
