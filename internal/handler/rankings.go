package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"updown/internal/models"
	"updown/internal/repository"
)

type RankingHandler struct {
	Repo repository.Repository

	DefaultSeason func() string
}

func (h *RankingHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/rankings", h.list)
}

func (h *RankingHandler) list(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("scope"))
	if scope == "" {
		scope = models.ScopeAll
	}
	season := strings.TrimSpace(c.Query("season"))
	if season == "" && h.DefaultSeason != nil {
		season = h.DefaultSeason()
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	params := repository.ListSeasonStatsParams{
		Scope:    scope,
		SeasonID: season,
		Limit:    limit,
		Offset:   offset,
	}
	items, err := h.Repo.ListSeasonStats(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	total, err := h.Repo.CountSeasonStats(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, map[string]any{
		"total":  total,
		"scope":  scope,
		"season": season,
	})
}
