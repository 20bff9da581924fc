package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps collects the handlers mounted by NewRouter.
type RouterDeps struct {
	Auth          TokenValidator
	Threads       *ThreadHandler
	Notifications *NotificationHandler

	// Live endpoints. Nil handlers are not mounted.
	NotificationStream echo.HandlerFunc
	MessagingSocket    echo.HandlerFunc
	NotificationSocket echo.HandlerFunc

	FrontendURL string
	InternalKey string // empty disables /internal routes
}

// NewRouter builds the echo instance with middleware and every route.
func NewRouter(deps RouterDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = NewAppValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(RequestLogger())
	if deps.FrontendURL != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{deps.FrontendURL},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
			ExposeHeaders:    []string{echo.HeaderXRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if deps.MessagingSocket != nil {
		e.GET("/ws/messaging", deps.MessagingSocket)
	}
	if deps.NotificationSocket != nil {
		e.GET("/ws/notifications", deps.NotificationSocket)
	}

	api := e.Group("/api/v1")
	if deps.NotificationStream != nil {
		// Registered before the JWT group so the stream can read ?token=.
		api.GET("/notifications/stream", deps.NotificationStream)
	}

	authed := api.Group("", JWTAuth(deps.Auth))
	if deps.Threads != nil {
		deps.Threads.Register(authed)
	}
	if deps.Notifications != nil {
		deps.Notifications.Register(authed)
	}

	if deps.InternalKey != "" && deps.Notifications != nil {
		internal := e.Group("/internal/v1", InternalKey(deps.InternalKey))
		deps.Notifications.RegisterInternal(internal)
	}

	return e
}
