package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dispatchd/dispatch"
	"dispatchd/domain"
)

// Dispatcher is the synchronous task-operation interface consumed by the
// order/admin subsystem. Business-rule rejections come back as results,
// never as errors.
type Dispatcher interface {
	Claim(ctx context.Context, taskID, contractorID string) dispatch.Result
	UpdateStatus(ctx context.Context, taskID, contractorID, newStatus string) dispatch.Result
	Complete(ctx context.Context, taskID, contractorID, notes string, photos []string) dispatch.Result
	GetAvailableTasks(ctx context.Context, contractorID string, q *domain.GeoQuery) dispatch.TasksResult
	GetContractorTasks(ctx context.Context, contractorID string) dispatch.TasksResult
	GetTaskByID(ctx context.Context, taskID string) dispatch.Result
}

// NotificationStore lists a contractor's durable notifications.
type NotificationStore interface {
	ListNotifications(ctx context.Context, contractorID string) ([]domain.Notification, error)
}

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Register wires every route on the provided Echo instance.
func Register(e *echo.Echo, rt *RealtimeHandler, engine Dispatcher, notifs NotificationStore, pinger Pinger, auth Authenticator, logger *log.Logger) {
	e.GET("/ws", rt.Handle)
	e.GET("/healthz", healthz(pinger))

	g := e.Group("/api")
	g.POST("/tasks/:id/claim", claimTask(engine, auth))
	g.POST("/tasks/:id/status", updateTaskStatus(engine, auth))
	g.POST("/tasks/:id/complete", completeTask(engine, auth))
	g.GET("/tasks/available", availableTasks(engine, auth))
	g.GET("/tasks/mine", contractorTasks(engine, auth))
	g.GET("/tasks/:id", taskByID(engine, auth))
	g.GET("/notifications", listNotifications(notifs, auth, logger))
}

func healthz(pinger Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := pinger.Ping(c.Request().Context()); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func contractorFrom(c echo.Context, auth Authenticator) (string, bool) {
	id, err := auth.ContractorIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return "", false
	}
	return id, true
}

func claimTask(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, engine.Claim(c.Request().Context(), c.Param("id"), contractorID))
	}
}

func updateTaskStatus(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := c.Bind(&body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		return c.JSON(http.StatusOK, engine.UpdateStatus(c.Request().Context(), c.Param("id"), contractorID, body.Status))
	}
}

func completeTask(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		var body struct {
			Notes  string   `json:"notes"`
			Photos []string `json:"photos"`
		}
		if err := c.Bind(&body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		return c.JSON(http.StatusOK, engine.Complete(c.Request().Context(), c.Param("id"), contractorID, body.Notes, body.Photos))
	}
}

func availableTasks(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		q, err := geoQueryFrom(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, engine.GetAvailableTasks(c.Request().Context(), contractorID, q))
	}
}

func contractorTasks(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, engine.GetContractorTasks(c.Request().Context(), contractorID))
	}
}

func taskByID(engine Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := contractorFrom(c, auth); !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, engine.GetTaskByID(c.Request().Context(), c.Param("id")))
	}
}

func listNotifications(store NotificationStore, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		contractorID, ok := contractorFrom(c, auth)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		notifs, err := store.ListNotifications(c.Request().Context(), contractorID)
		if err != nil {
			logger.WithError(err).Error("list notifications failed")
			return c.String(http.StatusInternalServerError, "unable to list notifications")
		}
		return c.JSON(http.StatusOK, map[string]any{"notifications": notifs})
	}
}
