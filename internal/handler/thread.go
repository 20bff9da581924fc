package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/service"
)

// ThreadService is the messaging use-case surface used by ThreadHandler.
type ThreadService interface {
	GetOrCreateThread(ctx context.Context, orderID int64, participants []domain.Participant) (*domain.Thread, error)
	GetThread(ctx context.Context, threadID uuid.UUID, userID int64) (*domain.Thread, error)
	ListThreadsForUser(ctx context.Context, userID int64, status *domain.ThreadStatus, page, limit int) ([]domain.ThreadView, error)
	SendMessage(ctx context.Context, threadID uuid.UUID, senderID int64, in service.MessageInput) (*domain.Message, error)
	ListMessages(ctx context.Context, threadID uuid.UUID, userID int64, before *time.Time, limit int) (*domain.MessagePage, error)
	MarkRead(ctx context.Context, threadID uuid.UUID, userID int64) error
	Archive(ctx context.Context, threadID uuid.UUID, userID int64) (*domain.Thread, error)
}

// ThreadHandler serves thread and message endpoints.
type ThreadHandler struct {
	threads ThreadService
}

// NewThreadHandler creates a new ThreadHandler.
func NewThreadHandler(threads ThreadService) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

// Register mounts the thread routes on g.
func (h *ThreadHandler) Register(g *echo.Group) {
	g.POST("/threads", h.Create)
	g.GET("/threads", h.List)
	g.GET("/threads/:id", h.Get)
	g.POST("/threads/:id/messages", h.SendMessage)
	g.GET("/threads/:id/messages", h.ListMessages)
	g.POST("/threads/:id/read", h.MarkRead)
	g.POST("/threads/:id/archive", h.Archive)
}

type createThreadRequest struct {
	OrderID      int64                `json:"order_id" validate:"required,gt=0"`
	Participants []domain.Participant `json:"participants" validate:"min=2,dive"`
}

// Create opens the thread of an order, or returns the existing one. The
// caller must be one of the participants.
func (h *ThreadHandler) Create(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	var req createThreadRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if !containsUser(req.Participants, userID) {
		return domain.ErrForbidden
	}

	thread, err := h.threads.GetOrCreateThread(c.Request().Context(), req.OrderID, req.Participants)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, thread)
}

func containsUser(participants []domain.Participant, userID int64) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// List returns the caller's threads, most recently active first.
func (h *ThreadHandler) List(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	var status *domain.ThreadStatus
	if v := c.QueryParam("status"); v != "" {
		st := domain.ThreadStatus(v)
		if !st.Valid() {
			return &domain.ValidationError{Field: "status", Message: "unknown thread status"}
		}
		status = &st
	}

	views, err := h.threads.ListThreadsForUser(c.Request().Context(), userID, status, page, limit)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, views)
}

// Get returns a single thread.
func (h *ThreadHandler) Get(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	threadID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	thread, err := h.threads.GetThread(c.Request().Context(), threadID, userID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, thread)
}

// SendMessage posts a message to a thread.
func (h *ThreadHandler) SendMessage(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	threadID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var in service.MessageInput
	if err := c.Bind(&in); err != nil {
		return &domain.ValidationError{Field: "body", Message: "malformed JSON"}
	}

	msg, err := h.threads.SendMessage(c.Request().Context(), threadID, userID, in)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, msg)
}

// ListMessages pages backwards through a thread's messages.
func (h *ThreadHandler) ListMessages(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	threadID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	before, err := queryTime(c, "before")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}

	page, err := h.threads.ListMessages(c.Request().Context(), threadID, userID, before, limit)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, page.Items, cursorMeta(page.NextCursor))
}

// MarkRead clears the caller's unread counter.
func (h *ThreadHandler) MarkRead(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	threadID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.threads.MarkRead(c.Request().Context(), threadID, userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Archive archives a thread on behalf of a participant.
func (h *ThreadHandler) Archive(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	threadID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	thread, err := h.threads.Archive(c.Request().Context(), threadID, userID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, thread)
}
