package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/PabloGalante/chatsum/internal/app/insight"
	"github.com/PabloGalante/chatsum/internal/app/session"
	"github.com/PabloGalante/chatsum/internal/app/summaries"
	"github.com/PabloGalante/chatsum/internal/domain"
)

type Server struct {
	svc       *session.Service
	summaries *summaries.Service
}

// NewServer builds the HTTP API: echo routes wrapped in request id, logging
// and CORS middleware. A panicking handler answers 500.
func NewServer(svc *session.Service, summarySvc *summaries.Service) http.Handler {
	s := &Server{svc: svc, summaries: summarySvc}

	e := echo.New()
	e.Use(middleware.Recover())

	e.GET("/", s.handleHealth)
	e.GET("/healthz", s.handleHealth)

	chats := e.Group("/chats")
	chats.POST("", s.handleCreateChat)
	chats.POST("/message", s.handleRecordMessage)
	chats.POST("/summarize", s.handleSummarize)
	chats.POST("/ask", s.handleAsk)
	chats.POST("/chat", s.handleChat)
	chats.GET("/:session_id", s.handleGetChat)
	chats.DELETE("/:session_id", s.handleDeleteChat)
	chats.GET("/:session_id/transcript", s.handleTranscript)
	chats.GET("/:session_id/summaries", s.handleListSummaries)
	chats.POST("/:session_id/analyze", s.handleAnalyze)

	e.GET("/users/:user_id/chats", s.handleUserChats)
	e.GET("/search", s.handleSearch)

	return chainMiddlewares(e, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Role           string `json:"role"`
}

type createChatRequest struct {
	SessionID    string               `json:"session_id"`
	UserID       string               `json:"user_id"`
	ChatMessages []chatMessageRequest `json:"chat_messages"`
}

type recordMessageRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	MessageType    string `json:"message_type"`
}

type summarizeRequest struct {
	SessionID string `json:"session_id"`
	Refresh   bool   `json:"refresh"`
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type chatRequest struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Message        string    `json:"message"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID    string            `json:"session_id"`
	UserID       string            `json:"user_id"`
	MessageCount int               `json:"message_count"`
	ChatMessages []messageResponse `json:"chat_messages"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type sessionInfoResponse struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	FirstMessage string    `json:"first_message"`
	LastMessage  string    `json:"last_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type summaryResponse struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	Model        string    `json:"model"`
	GeneratedAt  time.Time `json:"generated_at"`
}

type turnResponse struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type keywordResponse struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type analysisResponse struct {
	SessionID     string            `json:"session_id"`
	MessageCount  int               `json:"message_count"`
	RoleCounts    map[string]int    `json:"role_counts"`
	Conversations []string          `json:"conversations"`
	TokenTotal    int               `json:"token_total"`
	Keywords      []keywordResponse `json:"keywords"`
	Analysis      string            `json:"analysis"`
	Model         string            `json:"model"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateChat(c *echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid JSON body")
	}

	msgs := make([]session.MessageInput, 0, len(req.ChatMessages))
	for _, m := range req.ChatMessages {
		role, ok := domain.ParseRole(m.Role)
		if !ok {
			return badRequest("unknown role " + strconv.Quote(m.Role))
		}
		msgs = append(msgs, session.MessageInput{
			ConversationID: domain.ConversationID(m.ConversationID),
			Role:           role,
			Text:           m.Message,
		})
	}

	sess, err := s.svc.AppendMessages(c.Request().Context(), session.AppendMessagesInput{
		SessionID: domain.SessionID(req.SessionID),
		UserID:    domain.UserID(req.UserID),
		Messages:  msgs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleRecordMessage(c *echo.Context) error {
	var req recordMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid JSON body")
	}

	role, ok := domain.ParseRole(req.MessageType)
	if !ok {
		return badRequest("unknown message_type " + strconv.Quote(req.MessageType))
	}

	sess, err := s.svc.RecordMessage(c.Request().Context(), session.RecordMessageInput{
		SessionID:      domain.SessionID(req.SessionID),
		ConversationID: domain.ConversationID(req.ConversationID),
		UserID:         domain.UserID(req.UserID),
		Role:           role,
		Text:           req.Message,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetChat(c *echo.Context) error {
	sess, err := s.svc.GetSession(c.Request().Context(), domain.SessionID(c.Param("session_id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleDeleteChat(c *echo.Context) error {
	removed, err := s.svc.DeleteSession(c.Request().Context(), domain.SessionID(c.Param("session_id")))
	if err != nil {
		return toHTTPError(err)
	}

	status := "deleted"
	if removed == 0 {
		status = "not_found"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"removed": removed,
		"status":  status,
	})
}

func (s *Server) handleTranscript(c *echo.Context) error {
	id := c.Param("session_id")
	conv := c.QueryParam("conversation_id")

	turns, err := s.svc.Transcript(c.Request().Context(), domain.SessionID(id), domain.ConversationID(conv))
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnResponse{Role: string(t.Role), Text: t.Text})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":      id,
		"conversation_id": conv,
		"turns":           out,
	})
}

func (s *Server) handleListSummaries(c *echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}

	id := c.Param("session_id")
	list, err := s.summaries.ListSessionSummaries(c.Request().Context(), domain.SessionID(id), limit)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]summaryResponse, 0, len(list))
	for _, sum := range list {
		out = append(out, toSummaryResponse(sum))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": id,
		"summaries":  out,
	})
}

func (s *Server) handleAnalyze(c *echo.Context) error {
	report, err := s.svc.Analyze(c.Request().Context(), domain.SessionID(c.Param("session_id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toAnalysisResponse(report))
}

func (s *Server) handleSummarize(c *echo.Context) error {
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid JSON body")
	}

	out, err := s.svc.Summarize(c.Request().Context(), session.SummarizeInput{
		SessionID: domain.SessionID(req.SessionID),
		Refresh:   req.Refresh,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id":    req.SessionID,
		"summary":       out.Summary.Text,
		"message_count": out.Summary.MessageCount,
		"model":         out.Summary.Model,
		"generated_at":  out.Summary.GeneratedAt,
		"cached":        out.Cached,
	})
}

func (s *Server) handleAsk(c *echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid JSON body")
	}

	out, err := s.svc.Answer(c.Request().Context(), session.AnswerInput{
		SessionID: domain.SessionID(req.SessionID),
		Question:  req.Question,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id": req.SessionID,
		"question":   req.Question,
		"answer":     out.Answer,
		"model":      out.Model,
	})
}

func (s *Server) handleChat(c *echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid JSON body")
	}

	out, err := s.svc.Chat(c.Request().Context(), session.ChatInput{
		SessionID:      domain.SessionID(req.SessionID),
		UserID:         domain.UserID(req.UserID),
		ConversationID: domain.ConversationID(req.ConversationID),
		Text:           req.Message,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id":    req.SessionID,
		"reply":         out.Reply,
		"model":         out.Model,
		"message_count": len(out.Session.Messages),
	})
}

func (s *Server) handleUserChats(c *echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}

	userID := c.Param("user_id")
	infos, err := s.svc.ListUserSessions(c.Request().Context(), domain.UserID(userID), limit)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]sessionInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionInfoResponse{
			SessionID:    string(info.ID),
			MessageCount: info.MessageCount,
			FirstMessage: info.FirstMessage,
			LastMessage:  info.LastMessage,
			CreatedAt:    info.CreatedAt,
			UpdatedAt:    info.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": out,
	})
}

func (s *Server) handleSearch(c *echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}

	in := session.SearchInput{
		Query:  c.QueryParam("query"),
		UserID: domain.UserID(c.QueryParam("user_id")),
		Limit:  limit,
	}
	if raw := c.QueryParam("case_sensitive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("case_sensitive must be a boolean")
		}
		in.CaseSensitive = &v
	}

	found, err := s.svc.SearchSessions(c.Request().Context(), in)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]sessionResponse, 0, len(found))
	for _, sess := range found {
		out = append(out, toSessionResponse(sess))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"query":   in.Query,
		"count":   len(out),
		"results": out,
	})
}

// ─────────────────────────────────────────────
// Conversion Helpers
// ─────────────────────────────────────────────

func toSessionResponse(s *domain.ChatSession) sessionResponse {
	msgs := make([]messageResponse, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, messageResponse{
			ID:             string(m.ID),
			ConversationID: string(m.ConversationID),
			Role:           string(m.Role),
			Message:        m.Text,
			TokenCount:     m.TokenCount,
			CreatedAt:      m.CreatedAt,
		})
	}
	return sessionResponse{
		SessionID:    string(s.ID),
		UserID:       string(s.UserID),
		MessageCount: len(s.Messages),
		ChatMessages: msgs,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toSummaryResponse(s *domain.Summary) summaryResponse {
	return summaryResponse{
		ID:           string(s.ID),
		SessionID:    string(s.SessionID),
		Summary:      s.Text,
		MessageCount: s.MessageCount,
		Model:        s.Model,
		GeneratedAt:  s.GeneratedAt,
	}
}

func toAnalysisResponse(r *insight.Report) analysisResponse {
	roles := make(map[string]int, len(r.RoleCounts))
	for role, n := range r.RoleCounts {
		roles[string(role)] = n
	}
	convs := make([]string, 0, len(r.Conversations))
	for _, c := range r.Conversations {
		convs = append(convs, string(c))
	}
	kws := make([]keywordResponse, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		kws = append(kws, keywordResponse{Word: k.Word, Count: k.Count})
	}
	return analysisResponse{
		SessionID:     string(r.SessionID),
		MessageCount:  r.MessageCount,
		RoleCounts:    roles,
		Conversations: convs,
		TokenTotal:    r.TokenTotal,
		Keywords:      kws,
		Analysis:      r.Analysis,
		Model:         r.Model,
	}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// toHTTPError maps domain errors onto status codes. Internal details of
// unexpected failures are not exposed.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "ai provider rate limit reached, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "ai provider timed out")
	case errors.Is(err, domain.ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream service failed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func intQuery(c *echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return n, nil
}
