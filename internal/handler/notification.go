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

// NotificationService is the notification use-case surface used by
// NotificationHandler.
type NotificationService interface {
	Create(ctx context.Context, in service.NotificationInput) (*domain.Notification, error)
	ListByUser(ctx context.Context, userID int64, before *time.Time, limit int) (*domain.NotificationPage, error)
	MarkRead(ctx context.Context, userID int64, id uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID int64, id uuid.UUID) (bool, error)
}

// NotificationHandler serves the notification inbox.
type NotificationHandler struct {
	notifications NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Register mounts the user-facing notification routes on g.
func (h *NotificationHandler) Register(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.POST("/notifications/read-all", h.MarkAllRead)
	g.POST("/notifications/:id/read", h.MarkRead)
	g.DELETE("/notifications/:id", h.Delete)
}

// RegisterInternal mounts the collaborator routes on g.
func (h *NotificationHandler) RegisterInternal(g *echo.Group) {
	g.POST("/notifications", h.Create)
}

// Create records a notification for any user. Collaborator-only.
func (h *NotificationHandler) Create(c echo.Context) error {
	var in service.NotificationInput
	if err := bindAndValidate(c, &in); err != nil {
		return err
	}

	n, err := h.notifications.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, n)
}

// List pages backwards through the caller's notifications.
func (h *NotificationHandler) List(c echo.Context) error {
	userID, err := mustUserID(c)
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

	page, err := h.notifications.ListByUser(c.Request().Context(), userID, before, limit)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, page.Items, cursorMeta(page.NextCursor))
}

// MarkRead marks one of the caller's notifications read.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	n, err := h.notifications.MarkRead(c.Request().Context(), userID, id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, n)
}

// MarkAllRead marks every unread notification of the caller read.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	count, err := h.notifications.MarkAllRead(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]int64{"count": count})
}

// Delete removes one of the caller's notifications.
func (h *NotificationHandler) Delete(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	removed, err := h.notifications.Delete(c.Request().Context(), userID, id)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFound
	}
	return c.NoContent(http.StatusNoContent)
}
