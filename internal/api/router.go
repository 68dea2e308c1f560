package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/logging"
)

func NewRouter(apiHandler *APIHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger, "/api/health"))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)
		r.Post("/auth/register", apiHandler.RegisterHandler)
		r.Post("/auth/verify", apiHandler.VerifyHandler)

		// Resolves the token from the header or the request body itself
		r.Post("/gods/create", apiHandler.CreateGodHandler)

		// Websocket clients can not set headers, so the token may be a query parameter
		r.With(apiHandler.AuthMiddleware(true)).Get("/gods/{id}/stream", apiHandler.StreamHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware(false))

			r.Post("/auth/logout", apiHandler.LogoutHandler)
			r.Post("/chat", apiHandler.ChatHandler)
			r.Get("/wallet", apiHandler.WalletHandler)
			r.Get("/messages/recent", apiHandler.RecentMessagesHandler)

			// God routes
			r.Get("/gods", apiHandler.ListGodsHandler)
			r.Get("/gods/my-gods", apiHandler.MyGodsHandler)
			r.Get("/gods/{id}", apiHandler.GetGodHandler)
			r.Get("/gods/{id}/chat", apiHandler.CommunityMessagesHandler)
			r.Post("/gods/{id}/chat", apiHandler.CommunityPostHandler)
			r.Get("/gods/{id}/messages", apiHandler.OwnMessagesHandler)
		})
	})

	return r
}
