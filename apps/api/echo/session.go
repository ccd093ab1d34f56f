package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/session"
)

// sessionAPI is the operator surface: listings, manual materialization and
// manual closure. All of it sits behind the operator JWT.
type sessionAPI struct {
	deps ServerDeps
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := sessionAPI{deps: deps}

	sg := g.Group("/sessions", jwt, operatorMiddleware())
	sg.GET("", api.query)
	sg.GET("/today", api.today)
	sg.POST("/generate", api.generate)
	sg.POST("/:date/:room/close", api.closeAll, adminMiddleware()) // force-close is admin-only

	g.GET("/devices/status", api.deviceStatus, jwt, operatorMiddleware())
}

// Bindings

type (
	sessionQuery struct {
		Date    string `query:"date" validate:"omitempty,caldate"`
		Room    string `query:"room"`
		Status  string `query:"status" validate:"omitempty,oneof=SCHEDULED ACTIVE CLOSED"`
		Group   string `query:"group"`
		Subject string `query:"subject"`
	}

	generateQuery struct {
		Date string `query:"date" validate:"omitempty,caldate"`
	}

	closeParams struct {
		Date string `param:"date" validate:"required,caldate"`
		Room string `param:"room" validate:"required"`
	}

	generateResponse struct {
		Date    string `json:"date"`
		Created int    `json:"created"`
	}

	deviceStatusResponse struct {
		identity.Room
		Session *session.Session `json:"session,omitempty"`
	}
)

// Handlers

func (api sessionAPI) query(ctx echo.Context) error {
	var data sessionQuery
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to sessionQuery")
	}
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}
	if data.Date == "" {
		data.Date = core.FormatDate(api.deps.Clock.Now())
	}

	sessions, err := api.deps.Registry.Filter(ctx.Request().Context(), session.QueryFilter{
		Date:    data.Date,
		Room:    data.Room,
		Status:  session.Status(data.Status),
		Group:   data.Group,
		Subject: data.Subject,
	})
	if err != nil {
		return errors.Wrap(err, "filtering sessions")
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api sessionAPI) today(ctx echo.Context) error {
	sessions, err := api.deps.Registry.Filter(ctx.Request().Context(), session.QueryFilter{
		Date: core.FormatDate(api.deps.Clock.Now()),
	})
	if err != nil {
		return errors.Wrap(err, "filtering sessions")
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// generate materializes the weekly template for a date, today by default.
// Re-running it is harmless; existing sessions are left untouched.
func (api sessionAPI) generate(ctx echo.Context) error {
	var data generateQuery
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to generateQuery")
	}
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	date := api.deps.Clock.Now()
	if data.Date != "" {
		var err error
		if date, err = core.ParseDate(data.Date); err != nil {
			return errors.Wrap(err, "parsing date")
		}
	}

	created, err := api.deps.Registry.MaterializeDaily(ctx.Request().Context(), date)
	if err != nil {
		return errors.Wrap(err, "materializing sessions")
	}
	return ctx.JSON(http.StatusOK, generateResponse{Date: core.FormatDate(date), Created: created})
}

// closeAll force-closes a room's open sessions for a date, sealing their stats.
func (api sessionAPI) closeAll(ctx echo.Context) error {
	data := closeParams{Date: ctx.Param("date"), Room: ctx.Param("room")}
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	closed, err := api.deps.Registry.CloseAll(ctx.Request().Context(), data.Date, data.Room, api.deps.Clock.Now())
	if err != nil {
		return errors.Wrap(err, "closing sessions")
	}
	return ctx.JSON(http.StatusOK, closed)
}

// deviceStatus reports every room's device heartbeat along with the session it
// is currently bound to, if any.
func (api sessionAPI) deviceStatus(ctx echo.Context) error {
	c := ctx.Request().Context()
	rooms, err := api.deps.Resolver.Rooms(c)
	if err != nil {
		return errors.Wrap(err, "listing rooms")
	}

	now := api.deps.Clock.Now()
	statuses := make([]deviceStatusResponse, 0, len(rooms))
	for _, room := range rooms {
		st := deviceStatusResponse{Room: room}
		sess, err := api.deps.Registry.Check(c, room.ID, now)
		switch errors.Cause(err) {
		case nil:
			st.Session = &sess
		case session.ErrNoEligibleSession:
		default:
			return errors.Wrapf(err, "checking sessions for room %s", room.ID)
		}
		statuses = append(statuses, st)
	}
	return ctx.JSON(http.StatusOK, statuses)
}
