package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/scheduler"
)

type schedulerAPI struct {
	deps ServerDeps
}

func registerSchedulerAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := schedulerAPI{deps: deps}

	sg := g.Group("/scheduler", jwt, operatorMiddleware())
	sg.GET("/jobs", api.jobs)
	sg.POST("/jobs/:name/run", api.run)
}

func (api schedulerAPI) jobs(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.deps.Sched.Status())
}

// run triggers a job outside its schedule, typically to backfill a missed
// materialization.
func (api schedulerAPI) run(ctx echo.Context) error {
	name := ctx.Param("name")
	if err := api.deps.Sched.TriggerNow(ctx.Request().Context(), name); err != nil {
		if errors.Cause(err) == scheduler.ErrJobNotFound {
			return scheduler.ErrJobNotFound
		}
		return errors.Wrapf(err, "running job %s", name)
	}

	for _, st := range api.deps.Sched.Status() {
		if st.Name == name {
			return ctx.JSON(http.StatusOK, st)
		}
	}
	return ctx.NoContent(http.StatusNoContent)
}
