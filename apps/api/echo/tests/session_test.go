package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/scheduler"
	"github.com/trezcool/mahudhurio/core/session"
	testutil "github.com/trezcool/mahudhurio/tests"
)

func Test_sessionApi_authRequired(t *testing.T) {
	server := setup(t)

	// a valid token whose claims carry no operator rights
	claims := NewOperatorClaims(conf, "nobody", false)
	claims.IsOperator = false
	plainToken, err := GenerateToken(conf, claims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "query: auth required", method: http.MethodGet, path: "/v1/sessions", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "generate: auth required", method: http.MethodPost, path: "/v1/sessions/generate", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "close: auth required", method: http.MethodPost, path: "/v1/sessions/2026-03-02/R1/close", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "status: auth required", method: http.MethodGet, path: "/v1/devices/status", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "jobs: auth required", method: http.MethodGet, path: "/v1/scheduler/jobs", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "query: operator required", method: http.MethodGet, path: "/v1/sessions", token: plainToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "close: admin required", method: http.MethodPost, path: "/v1/sessions/2026-03-02/R1/close",
			token:    getToken(t, "operator", false),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sessionApi_generateAndQuery(t *testing.T) {
	server := setup(t)
	seedTimetable(t)
	token := getToken(t, "operator", false)

	// generate for a given Monday
	req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/generate?date=2026-03-02", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var gen struct {
		Date    string `json:"date"`
		Created int    `json:"created"`
	}
	decodeBody(t, rec, &gen)
	assert.Equal(t, "2026-03-02", gen.Date)
	assert.Equal(t, 1, gen.Created)

	// re-running is harmless
	req, rec = newAuthRequest(http.MethodPost, "/v1/sessions/generate?date=2026-03-02", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &gen)
	assert.Equal(t, 0, gen.Created)

	// bad date
	req, rec = newAuthRequest(http.MethodPost, "/v1/sessions/generate?date=garbage", token)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// listing defaults to the clock's today
	req, rec = newAuthRequest(http.MethodGet, "/v1/sessions", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []session.Session
	decodeBody(t, rec, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "20260302_R1_0900_G1", sessions[0].ID)

	// filters narrow
	req, rec = newAuthRequest(http.MethodGet, "/v1/sessions?date=2026-03-02&status=CLOSED", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sessions)
	assert.Empty(t, sessions)

	req, rec = newAuthRequest(http.MethodGet, "/v1/sessions?status=BOGUS", token)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// /today mirrors the default listing
	req, rec = newAuthRequest(http.MethodGet, "/v1/sessions/today", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sessions)
	assert.Len(t, sessions, 1)
}

func Test_sessionApi_closeAll(t *testing.T) {
	server := setup(t)
	seedTimetable(t)
	token := getToken(t, "admin", true)
	ctx := context.Background()

	_, err := registry.MaterializeDaily(ctx, clock.Now())
	require.NoError(t, err)
	clock.Set(testutil.At(t, "2026-03-02 09:02"))
	_, err = registry.Start(ctx, "R1", clock.Now())
	require.NoError(t, err)

	// force-close mid-slot
	clock.Set(testutil.At(t, "2026-03-02 09:30"))
	req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/2026-03-02/R1/close", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var closed []session.Session
	decodeBody(t, rec, &closed)
	require.Len(t, closed, 1)
	assert.Equal(t, session.StatusClosed, closed[0].Status)
	require.NotNil(t, closed[0].Stats)
	assert.Equal(t, 5, closed[0].Stats.Total)

	// unknown room
	req, rec = newAuthRequest(http.MethodPost, "/v1/sessions/2026-03-02/R7/close", token)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_sessionApi_deviceStatus(t *testing.T) {
	server := setup(t)
	seedTimetable(t)
	token := getToken(t, "operator", false)
	ctx := context.Background()

	type roomStatus struct {
		identity.Room
		Session *session.Session `json:"session,omitempty"`
	}

	req, rec := newAuthRequest(http.MethodGet, "/v1/devices/status", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rooms []roomStatus
	decodeBody(t, rec, &rooms)
	require.Len(t, rooms, 2)
	assert.Equal(t, "R1", rooms[0].ID) // sorted by id
	assert.Equal(t, "R9", rooms[1].ID)
	assert.False(t, rooms[1].Active)
	assert.Nil(t, rooms[0].Session) // nothing materialized yet

	// once a session is running the status carries it
	_, err := registry.MaterializeDaily(ctx, clock.Now())
	require.NoError(t, err)
	clock.Set(testutil.At(t, "2026-03-02 09:02"))
	_, err = registry.Start(ctx, "R1", clock.Now())
	require.NoError(t, err)

	req, rec = newAuthRequest(http.MethodGet, "/v1/devices/status", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &rooms)
	require.NotNil(t, rooms[0].Session)
	assert.Equal(t, session.StatusActive, rooms[0].Session.Status)
	assert.Nil(t, rooms[1].Session)
}

func Test_schedulerApi(t *testing.T) {
	server := setup(t)
	seedTimetable(t)
	token := getToken(t, "operator", false)

	req, rec := newAuthRequest(http.MethodGet, "/v1/scheduler/jobs", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []scheduler.JobStatus
	decodeBody(t, rec, &jobs)
	require.Len(t, jobs, 3)

	// trigger the daily materialization by hand
	req, rec = newAuthRequest(http.MethodPost, "/v1/scheduler/jobs/materialize-daily/run", token)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st scheduler.JobStatus
	decodeBody(t, rec, &st)
	assert.Equal(t, "materialize-daily", st.Name)
	assert.Equal(t, 1, st.Runs)

	sessions, err := registry.Filter(context.Background(), session.QueryFilter{Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	// unknown job
	req, rec = newAuthRequest(http.MethodPost, "/v1/scheduler/jobs/nope/run", token)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
