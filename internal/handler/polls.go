package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"updown/internal/service"
)

type PollHandler struct {
	Polls *service.PollService
}

func (h *PollHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/polls")
	group.GET("/:market/current", h.current)
	group.GET("/:market/:window_key", h.get)
	group.POST("/:market/votes", h.vote)
}

func (h *PollHandler) current(c *gin.Context) {
	poll, created, err := h.Polls.GetOrCreatePoll(c.Request.Context(), c.Param("market"), "")
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, poll, map[string]any{"created": created})
}

func (h *PollHandler) get(c *gin.Context) {
	poll, created, err := h.Polls.GetOrCreatePoll(c.Request.Context(), c.Param("market"), c.Param("window_key"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, poll, map[string]any{"created": created})
}

type voteRequest struct {
	UserID    string `json:"user_id"`
	Choice    string `json:"choice"`
	Amount    string `json:"amount"`
	WindowKey string `json:"window_key"`
}

func (h *PollHandler) vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}
	poll, _, err := h.Polls.GetOrCreatePoll(c.Request.Context(), c.Param("market"), req.WindowKey)
	if err != nil {
		ServiceError(c, err)
		return
	}
	receipt, err := h.Polls.PlaceOrUpdateVote(c.Request.Context(), poll.ID, req.UserID, req.Choice, amount)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, receipt, nil)
}
