package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/identity"
)

// deviceAPI is the surface the room devices talk to: session check/start/stop
// and attendance recording. Devices authenticate by their registered device id;
// an unknown id resolves to no room and a 404.
type deviceAPI struct {
	deps ServerDeps
}

func registerDeviceAPI(g *echo.Group, deps ServerDeps) {
	api := deviceAPI{deps: deps}

	dg := g.Group("/devices")
	dg.GET("/health", api.health)
	dg.POST("/ping", api.ping)

	g.GET("/sessions/check", api.check)
	g.POST("/sessions/start", api.start)
	g.POST("/sessions/stop", api.stop)
	g.POST("/attendance", api.record)
}

// Bindings

type (
	deviceRequest struct {
		DeviceID string `json:"device_id" validate:"required"`
	}

	attendanceRequest struct {
		DeviceID      string `json:"device_id" validate:"required"`
		FingerprintID *int   `json:"fingerprint_id" validate:"required"`
	}

	pingResponse struct {
		Room   string    `json:"room"`
		Active bool      `json:"active"`
		Time   time.Time `json:"time"`
	}

	attendanceResponse struct {
		attendance.Record
		AlreadyRecorded bool `json:"already_recorded"`
	}
)

// Handlers

func (api deviceAPI) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// ping records a device heartbeat; inactive rooms still get their last_seen
// updated so operators can see the device is alive.
func (api deviceAPI) ping(ctx echo.Context) error {
	var data deviceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to deviceRequest")
	}
	data.DeviceID = core.CleanString(data.DeviceID)
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	c := ctx.Request().Context()
	room, err := api.deps.Resolver.RoomByDevice(c, data.DeviceID)
	if err != nil && errors.Cause(err) != identity.ErrRoomInactive {
		return errors.Wrap(err, "resolving device room")
	}

	now := api.deps.Clock.Now()
	if err := api.deps.Resolver.TouchDevice(c, room.ID, now); err != nil {
		return errors.Wrap(err, "touching device")
	}
	return ctx.JSON(http.StatusOK, pingResponse{Room: room.ID, Active: room.Active, Time: now})
}

// check tells the device which session it should bind to right now, if any.
func (api deviceAPI) check(ctx echo.Context) error {
	data := deviceRequest{DeviceID: core.CleanString(ctx.QueryParam("device_id"))}
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	c := ctx.Request().Context()
	room, err := api.deps.Resolver.RoomByDevice(c, data.DeviceID)
	if err != nil {
		return errors.Wrap(err, "resolving device room")
	}

	sess, err := api.deps.Registry.Check(c, room.ID, api.deps.Clock.Now())
	if err != nil {
		return errors.Wrap(err, "checking room sessions")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api deviceAPI) start(ctx echo.Context) error {
	var data deviceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to deviceRequest")
	}
	data.DeviceID = core.CleanString(data.DeviceID)
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	c := ctx.Request().Context()
	room, err := api.deps.Resolver.RoomByDevice(c, data.DeviceID)
	if err != nil {
		return errors.Wrap(err, "resolving device room")
	}

	sess, err := api.deps.Registry.Start(c, room.ID, api.deps.Clock.Now())
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api deviceAPI) stop(ctx echo.Context) error {
	var data deviceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to deviceRequest")
	}
	data.DeviceID = core.CleanString(data.DeviceID)
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	c := ctx.Request().Context()
	room, err := api.deps.Resolver.RoomByDevice(c, data.DeviceID)
	if err != nil {
		return errors.Wrap(err, "resolving device room")
	}

	sess, err := api.deps.Registry.Stop(c, room.ID, api.deps.Clock.Now())
	if err != nil {
		return errors.Wrap(err, "stopping session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

// record marks a student PRESENT against the room's ACTIVE session. A retry of
// an already-recorded scan is not an error; the existing record comes back.
func (api deviceAPI) record(ctx echo.Context) error {
	var data attendanceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to attendanceRequest")
	}
	data.DeviceID = core.CleanString(data.DeviceID)
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	c := ctx.Request().Context()
	room, err := api.deps.Resolver.RoomByDevice(c, data.DeviceID)
	if err != nil {
		return errors.Wrap(err, "resolving device room")
	}
	stud, err := api.deps.Resolver.StudentByBiometric(c, *data.FingerprintID)
	if err != nil {
		return errors.Wrap(err, "resolving student")
	}

	now := api.deps.Clock.Now()
	sess, err := api.deps.Registry.Check(c, room.ID, now)
	if err != nil {
		return errors.Wrap(err, "checking room sessions")
	}

	rec, already, err := api.deps.Ledger.Record(c, sess, stud, attendance.MethodFingerprint, now)
	if err != nil {
		return errors.Wrap(err, "recording attendance")
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	return ctx.JSON(status, attendanceResponse{Record: rec, AlreadyRecorded: already})
}
