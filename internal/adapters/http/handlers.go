package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxHistory = 500

// ChatHistory is the read side of the chat archive.
type ChatHistory interface {
	History(ctx context.Context, s domain.Session, limit int) ([]relay.ChatEntry, error)
}

type EvictRequest struct {
	Kind domain.SessionKind `json:"kind"`
	ID   string             `json:"id"`
}

type EvictResponse struct {
	Session string `json:"session"`
	Evicted int    `json:"evicted"`
}

type ChatEntryResponse struct {
	SenderID string `json:"sender_id"`
	Sender   string `json:"sender"`
	Text     string `json:"text"`
	At       int64  `json:"at"`
}

type handlers struct {
	relay   *relay.Relay
	history ChatHistory
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"members": h.relay.Registry.Len(),
	})
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.relay.Scopes.List()})
}

func sessionParam(c *gin.Context) (domain.Session, bool) {
	s := domain.Session{Kind: domain.SessionKind(c.Param("kind")), ID: c.Param("id")}
	if err := s.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return s, false
	}
	return s, true
}

func (h *handlers) chatHistory(c *gin.Context) {
	s, ok := sessionParam(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat archive disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > maxHistory {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	entries, err := h.history.History(c.Request.Context(), s, limit)
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Str("session", s.Key()).Msg("chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	out := make([]ChatEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ChatEntryResponse{
			SenderID: string(e.SenderID),
			Sender:   e.Sender,
			Text:     e.Text,
			At:       e.At.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"session": s.Key(), "messages": out})
}

func (h *handlers) evict(c *gin.Context) {
	var req EvictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	s := domain.Session{Kind: req.Kind, ID: req.ID}
	if err := s.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := h.relay.EvictSession(s)
	log.Info().Str("module", "adapters.http").Str("session", s.Key()).Int("evicted", n).
		Str("client_token", clientToken(c)).Msg("session evicted")
	c.JSON(http.StatusOK, EvictResponse{Session: s.Key(), Evicted: n})
}

// clientToken remembers the caller's token in the cookie session so admin
// actions can be traced across requests.
func clientToken(c *gin.Context) string {
	sess := sessions.Default(c)
	token, _ := sess.Get("client_token").(string)
	if token == "" {
		token = c.GetString("client_token")
		sess.Set("client_token", token)
		if err := sess.Save(); err != nil {
			log.Debug().Str("module", "adapters.http").Err(err).Msg("save session")
		}
	}
	return token
}
