package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/schedule"
	"github.com/trezcool/mahudhurio/core/scheduler"
	"github.com/trezcool/mahudhurio/core/session"
	emailsvc "github.com/trezcool/mahudhurio/services/email"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
	testutil "github.com/trezcool/mahudhurio/tests"
)

var (
	store    *inmemdb.Store
	clock    *testutil.Clock
	conf     *core.Config
	registry *session.Registry

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func setup(t *testing.T) Server {
	t.Helper()

	store = testutil.NewStore(t)
	conf = testutil.NewConfig()
	logger := testutil.NewLogger(t)
	clock = testutil.NewClock(testutil.At(t, "2026-03-02 06:00"))

	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	resolver := identity.NewResolver(store)
	ledger := attendance.NewLedger(store, logger)
	registry = session.NewRegistry(store, schedule.NewService(store), resolver, ledger, mailSvc, logger, conf)

	sched, err := scheduler.New(registry, conf, clock, logger)
	if err != nil {
		t.Fatalf("setting up scheduler: %v", err)
	}

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	return NewServer(
		ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Clock:      clock,
			Resolver:   resolver,
			Registry:   registry,
			Ledger:     ledger,
			Sched:      sched,
			Validate:   validate,
			Translator: translator,
		},
	)
}

// seedTimetable loads the standard fixture: room R1 (device esp-001), group G1
// with 5 students (fingerprints 41..45) and a Monday 09:00-10:30 MATH101 slot.
func seedTimetable(t *testing.T) {
	t.Helper()
	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)
	testutil.SeedRoom(t, store, "R9", "Storage", "esp-009", false)
	testutil.SeedGroup(t, store, "G1", "Group One")
	testutil.SeedGroup(t, store, "G2", "Group Two")
	testutil.SeedSubject(t, store, "MATH101", "Mathematics")
	for i, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		testutil.SeedStudent(t, store, id, "Student "+id, "G1", 41+i)
	}
	testutil.SeedStudent(t, store, "x1", "Stranger", "G2", 99)
	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start:   testutil.MustTime(t, "09:00"),
		End:     testutil.MustTime(t, "10:30"),
		Group:   "G1",
		Subject: "MATH101",
	})
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, username string, admin bool) string {
	t.Helper()
	token, err := GenerateToken(conf, NewOperatorClaims(conf, username, admin))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	if !bytes.Equal(bytes.TrimSpace(rec.Body.Bytes()), bytes.TrimSpace(tt.wantData)) {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
