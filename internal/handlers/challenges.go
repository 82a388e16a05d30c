package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/middleware"
	"challenge-engine/internal/service"
)

const (
	requestTimeout = 10 * time.Second

	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// ChallengeHandler serves the challenge and notification endpoints
type ChallengeHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(svc *service.Service) *ChallengeHandler {
	return &ChallengeHandler{
		svc:    svc,
		logger: slog.Default(),
	}
}

type createChallengeRequest struct {
	Name      string             `json:"name"`
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Timezone  string             `json:"timezone"`
	Goals     map[string]float64 `json:"goals"`
}

type joinRequest struct {
	Goals map[string]float64 `json:"goals"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// requestContext returns the caller and a context bounded by requestTimeout
func requestContext(r *http.Request) (middleware.User, context.Context, context.CancelFunc) {
	user, _ := middleware.UserFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	return user, ctx, cancel
}

// HandleCreate handles POST /challenges
func (h *ChallengeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	var req createChallengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	start, err := challenge.ParseDate(req.StartDate)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := challenge.ParseDate(req.EndDate)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	c, err := h.svc.CreateChallenge(ctx, service.CreateInput{
		CreatorID:   user.ID,
		CreatorName: user.Name,
		Name:        req.Name,
		StartDate:   start,
		EndDate:     end,
		Timezone:    req.Timezone,
		Goals:       goalsFromJSON(req.Goals),
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toChallengeResponse(c))
}

// HandleGet handles GET /challenges/{id}
func (h *ChallengeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	c, err := h.svc.GetChallenge(ctx, mux.Vars(r)["id"], user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toChallengeResponse(c))
}

// HandleRename handles PATCH /challenges/{id}
func (h *ChallengeHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	c, err := h.svc.Rename(ctx, mux.Vars(r)["id"], user.ID, req.Name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toChallengeResponse(c))
}

// HandleDelete handles DELETE /challenges/{id}
func (h *ChallengeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	if err := h.svc.Delete(ctx, mux.Vars(r)["id"], user.ID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLeave handles POST /challenges/{id}/leave
func (h *ChallengeHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.svc.Leave)
}

// HandleFinish handles POST /challenges/{id}/finish
func (h *ChallengeHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.svc.FinishEarly)
}

// HandleCancel handles POST /challenges/{id}/cancel
func (h *ChallengeHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.svc.Cancel)
}

func (h *ChallengeHandler) handleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id, userID string) (*challenge.Challenge, error)) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	c, err := action(ctx, mux.Vars(r)["id"], user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toChallengeResponse(c))
}

// HandleProgress handles GET /challenges/{id}/progress
func (h *ChallengeHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	view, err := h.svc.GetProgress(ctx, mux.Vars(r)["id"], user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toProgressResponse(view))
}

// HandleSync handles POST /challenges/{id}/sync
func (h *ChallengeHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	view, err := h.svc.SyncNow(ctx, mux.Vars(r)["id"], user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toProgressResponse(view))
}

// HandleWeeks handles GET /challenges/{id}/weeks
func (h *ChallengeHandler) HandleWeeks(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	results, err := h.svc.ListWeekResults(ctx, mux.Vars(r)["id"], user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"weeks": toWeekResponses(results)})
}

// HandlePreviewInvite handles GET /invites/{code}
func (h *ChallengeHandler) HandlePreviewInvite(w http.ResponseWriter, r *http.Request) {
	_, ctx, cancel := requestContext(r)
	defer cancel()

	c, err := h.svc.PreviewByInviteCode(ctx, mux.Vars(r)["code"])
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toChallengeResponse(c))
}

// HandleJoinInvite handles POST /invites/{code}/join
func (h *ChallengeHandler) HandleJoinInvite(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	c, err := h.svc.JoinByInviteCode(ctx, mux.Vars(r)["code"], user.ID, user.Name, goalsFromJSON(req.Goals))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toChallengeResponse(c))
}

// HandleListMine handles GET /me/challenges
// Query parameters:
//   - status: Only return challenges in this status, may be repeated
func (h *ChallengeHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	var statuses []challenge.Status
	for _, raw := range r.URL.Query()["status"] {
		st, err := challenge.ParseStatus(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid status parameter")
			return
		}
		statuses = append(statuses, st)
	}

	challenges, err := h.svc.ListUserChallenges(ctx, user.ID, statuses...)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"challenges": toChallengeList(challenges)})
}

// HandleListNotifications handles GET /me/notifications
// Query parameters:
//   - limit: Maximum notifications to return (default: 50, max: 200)
func (h *ChallengeHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	limit := defaultNotificationLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		if limit < 1 || limit > maxNotificationLimit {
			respondWithError(w, http.StatusBadRequest, "Limit must be between 1 and 200")
			return
		}
	}

	notifications, err := h.svc.ListNotifications(ctx, user.ID, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	unread, err := h.svc.UnreadCount(ctx, user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"notifications": toNotificationResponses(notifications),
		"unread_count":  unread,
	})
}

// HandleMarkRead handles POST /me/notifications/read
func (h *ChallengeHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ctx, cancel := requestContext(r)
	defer cancel()

	marked, err := h.svc.MarkAllRead(ctx, user.ID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"marked": marked})
}
