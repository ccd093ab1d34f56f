package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/session"
	testutil "github.com/trezcool/mahudhurio/tests"
)

func Test_deviceApi_health(t *testing.T) {
	server := setup(t)

	req, rec := newRequest(http.MethodGet, "/v1/devices/health")
	server.ServeHTTP(rec, req)

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, map[string]string{"status": "ok"}),
	}, rec)
}

func Test_deviceApi_ping(t *testing.T) {
	server := setup(t)
	seedTimetable(t)

	req, rec := newRequest(http.MethodPost, "/v1/devices/ping", marchallObj(t, map[string]string{"device_id": "esp-001"}))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Room   string `json:"room"`
		Active bool   `json:"active"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "R1", resp.Room)
	assert.True(t, resp.Active)

	// last_seen landed on the room document
	rooms, err := identity.NewResolver(store).Rooms(context.Background())
	require.NoError(t, err)
	for _, room := range rooms {
		if room.ID == "R1" {
			require.NotNil(t, room.LastSeen)
		}
	}

	// inactive rooms still ping
	req, rec = newRequest(http.MethodPost, "/v1/devices/ping", marchallObj(t, map[string]string{"device_id": "esp-009"}))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Active)

	// firmware padding around the id is tolerated
	req, rec = newRequest(http.MethodPost, "/v1/devices/ping", marchallObj(t, map[string]string{"device_id": "  esp-001 \n"}))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, "R1", resp.Room)
}

func Test_deviceApi_validation(t *testing.T) {
	server := setup(t)
	seedTimetable(t)

	tests := []httpTest{
		{
			name: "ping: device_id required", method: http.MethodPost, path: "/v1/devices/ping",
			body: []byte(`{}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "start: unknown device", method: http.MethodPost, path: "/v1/sessions/start",
			body: marchallObj(t, map[string]string{"device_id": "nope"}), wantCode: http.StatusNotFound,
		},
		{
			name: "start: inactive room", method: http.MethodPost, path: "/v1/sessions/start",
			body: marchallObj(t, map[string]string{"device_id": "esp-009"}), wantCode: http.StatusForbidden,
		},
		{
			name: "check: device_id required", method: http.MethodGet, path: "/v1/sessions/check",
			wantCode: http.StatusBadRequest,
		},
		{
			name: "attendance: fingerprint_id required", method: http.MethodPost, path: "/v1/attendance",
			body: marchallObj(t, map[string]string{"device_id": "esp-001"}), wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			server.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

// Test_deviceApi_fullDay walks a session through a whole Monday from the
// device's point of view.
func Test_deviceApi_fullDay(t *testing.T) {
	server := setup(t)
	seedTimetable(t)
	ctx := context.Background()

	deviceBody := marchallObj(t, map[string]string{"device_id": "esp-001"})
	scan := func(fp int) []byte {
		return marchallObj(t, map[string]interface{}{"device_id": "esp-001", "fingerprint_id": fp})
	}

	// 06:00 the scheduler materializes the day
	created, err := registry.MaterializeDaily(ctx, clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, created)

	// 08:30: too early for the look-ahead window
	clock.Set(testutil.At(t, "2026-03-02 08:30"))
	req, rec := newRequest(http.MethodGet, "/v1/sessions/check?device_id=esp-001")
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// 08:50: the upcoming session is announced
	clock.Set(testutil.At(t, "2026-03-02 08:50"))
	req, rec = newRequest(http.MethodGet, "/v1/sessions/check?device_id=esp-001")
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess session.Session
	decodeBody(t, rec, &sess)
	assert.Equal(t, "20260302_R1_0900_G1", sess.ID)
	assert.Equal(t, session.StatusScheduled, sess.Status)

	// 08:50: a scan before activation is rejected
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(42))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code) // no active session

	// 09:02: teacher starts the session on the device
	clock.Set(testutil.At(t, "2026-03-02 09:02"))
	req, rec = newRequest(http.MethodPost, "/v1/sessions/start", deviceBody)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	assert.Equal(t, session.StatusActive, sess.Status)

	// 09:05: student s2 (fingerprint 42) scans in
	clock.Set(testutil.At(t, "2026-03-02 09:05"))
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(42))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var recResp struct {
		attendance.Record
		AlreadyRecorded bool `json:"already_recorded"`
	}
	decodeBody(t, rec, &recResp)
	assert.Equal(t, "s2", recResp.StudentID)
	assert.Equal(t, attendance.StatusPresent, recResp.Record.Status)
	assert.False(t, recResp.AlreadyRecorded)

	// 09:06: the device retries the same scan
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(42))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &recResp)
	assert.True(t, recResp.AlreadyRecorded)

	// unknown fingerprint
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(77))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// student from another group
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(99))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	// 10:36: the close sweep seals the session
	clock.Set(testutil.At(t, "2026-03-02 10:36"))
	require.NoError(t, registry.SweepClose(ctx, clock.Now()))

	// the device's stop is answered with the sealed session
	req, rec = newRequest(http.MethodPost, "/v1/sessions/stop", deviceBody)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	require.Equal(t, session.StatusClosed, sess.Status)
	require.NotNil(t, sess.Stats)
	assert.Equal(t, 5, sess.Stats.Total)
	assert.Equal(t, 1, sess.Stats.Present)
	assert.Equal(t, 4, sess.Stats.Absent)
	assert.Equal(t, 20.0, sess.Stats.Rate)
	assert.Equal(t, string(attendance.StatusPresent), sess.Stats.Breakdown["s2"])
	assert.Equal(t, string(attendance.StatusAbsent), sess.Stats.Breakdown["s1"])

	// scans against the sealed session are rejected
	req, rec = newRequest(http.MethodPost, "/v1/attendance", scan(43))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code) // no eligible session anymore
}
