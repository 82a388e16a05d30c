package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/middleware"
	"challenge-engine/internal/service"
)

// NewRouter builds the HTTP API. Everything except /health requires the
// internal API key and a forwarded user id.
func NewRouter(svc *service.Service, db *database.DB, apiKey string) *mux.Router {
	h := NewChallengeHandler(svc)

	r := mux.NewRouter()
	r.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, handleHealth(db))).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.Auth(apiKey))

	api.Handle("/challenges", middleware.WrapHandler(metrics.EndpointCreateChallenge, h.HandleCreate)).Methods(http.MethodPost)
	api.Handle("/challenges/{id}", middleware.WrapHandler(metrics.EndpointGetChallenge, h.HandleGet)).Methods(http.MethodGet)
	api.Handle("/challenges/{id}", middleware.WrapHandler(metrics.EndpointRenameChallenge, h.HandleRename)).Methods(http.MethodPatch)
	api.Handle("/challenges/{id}", middleware.WrapHandler(metrics.EndpointDeleteChallenge, h.HandleDelete)).Methods(http.MethodDelete)
	api.Handle("/challenges/{id}/leave", middleware.WrapHandler(metrics.EndpointLeaveChallenge, h.HandleLeave)).Methods(http.MethodPost)
	api.Handle("/challenges/{id}/finish", middleware.WrapHandler(metrics.EndpointFinishChallenge, h.HandleFinish)).Methods(http.MethodPost)
	api.Handle("/challenges/{id}/cancel", middleware.WrapHandler(metrics.EndpointCancelChallenge, h.HandleCancel)).Methods(http.MethodPost)
	api.Handle("/challenges/{id}/progress", middleware.WrapHandler(metrics.EndpointGetProgress, h.HandleProgress)).Methods(http.MethodGet)
	api.Handle("/challenges/{id}/sync", middleware.WrapHandler(metrics.EndpointSyncChallenge, h.HandleSync)).Methods(http.MethodPost)
	api.Handle("/challenges/{id}/weeks", middleware.WrapHandler(metrics.EndpointListWeeks, h.HandleWeeks)).Methods(http.MethodGet)

	api.Handle("/invites/{code}", middleware.WrapHandler(metrics.EndpointPreviewInvite, h.HandlePreviewInvite)).Methods(http.MethodGet)
	api.Handle("/invites/{code}/join", middleware.WrapHandler(metrics.EndpointJoinInvite, h.HandleJoinInvite)).Methods(http.MethodPost)

	api.Handle("/me/challenges", middleware.WrapHandler(metrics.EndpointListMyChallenges, h.HandleListMine)).Methods(http.MethodGet)
	api.Handle("/me/notifications", middleware.WrapHandler(metrics.EndpointListNotifications, h.HandleListNotifications)).Methods(http.MethodGet)
	api.Handle("/me/notifications/read", middleware.WrapHandler(metrics.EndpointMarkRead, h.HandleMarkRead)).Methods(http.MethodPost)

	return r
}

func handleHealth(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
