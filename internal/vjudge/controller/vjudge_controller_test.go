package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vjudge/internal/vjudge/model"
	"vjudge/pkg/testutil"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeJudge struct {
	statuses  map[string]model.AccountStatus
	accounts  []model.RemoteAccount
	started   []string
	liveFlags []bool
}

func (f *fakeJudge) CheckStatus(ctx context.Context, live bool) map[string]model.AccountStatus {
	f.liveFlags = append(f.liveFlags, live)
	return f.statuses
}

func (f *fakeJudge) Resync(ctx context.Context) []string { return f.started }

func (f *fakeJudge) Accounts() []model.RemoteAccount { return f.accounts }

type fakeCluster struct {
	all map[string]map[string]model.AccountStatus
	err error
}

func (f *fakeCluster) ReadAll(ctx context.Context) (map[string]map[string]model.AccountStatus, error) {
	return f.all, f.err
}

type fakeRecords struct {
	mu        sync.Mutex
	snapshots map[string]*model.RecordSnapshot
	events    map[string][]model.RecordEvent
}

func (f *fakeRecords) Get(ctx context.Context, rid string) (*model.RecordSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[rid], nil
}

func (f *fakeRecords) Events(ctx context.Context, rid string) ([]model.RecordEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.RecordEvent(nil), f.events[rid]...), nil
}

func (f *fakeRecords) add(ev model.RecordEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.RID] = append(f.events[ev.RID], ev)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, h *VJudgeController, method, target string) (int, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.Register(router.Group("/api/v1/vjudge"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body envelope
	testutil.MustUnmarshalJSON(t, rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestGetStatus(t *testing.T) {
	judge := &fakeJudge{statuses: map[string]model.AccountStatus{"spoj/bot": {Working: true}}}
	cluster := &fakeCluster{all: map[string]map[string]model.AccountStatus{
		"node-1": {"spoj/bot": {Working: false}},
		"node-2": {"codeforces/bot": {Working: true}},
	}}
	h := NewVJudgeController(judge, "node-1", cluster, nil)

	t.Run("local only", func(t *testing.T) {
		code, body := serve(t, h, http.MethodGet, "/api/v1/vjudge/status?live=true")
		testutil.AssertEqual(t, code, http.StatusOK)
		var data map[string]map[string]model.AccountStatus
		testutil.MustUnmarshalJSON(t, body.Data, &data)
		testutil.AssertEqual(t, len(data), 1)
		testutil.AssertTrue(t, data["node-1"]["spoj/bot"].Working, "local status is live")
		testutil.AssertTrue(t, judge.liveFlags[len(judge.liveFlags)-1], "live flag is passed through")
	})

	t.Run("cluster scope", func(t *testing.T) {
		code, body := serve(t, h, http.MethodGet, "/api/v1/vjudge/status?scope=cluster")
		testutil.AssertEqual(t, code, http.StatusOK)
		var data map[string]map[string]model.AccountStatus
		testutil.MustUnmarshalJSON(t, body.Data, &data)
		testutil.AssertEqual(t, len(data), 2)
		testutil.AssertTrue(t, data["node-1"]["spoj/bot"].Working, "live status replaces the published one")
		testutil.AssertTrue(t, data["node-2"]["codeforces/bot"].Working, "other nodes come from the board")
	})

	t.Run("board failure", func(t *testing.T) {
		broken := NewVJudgeController(judge, "node-1", &fakeCluster{err: errors.New("redis down")}, nil)
		code, _ := serve(t, broken, http.MethodGet, "/api/v1/vjudge/status?scope=cluster")
		testutil.AssertEqual(t, code, http.StatusInternalServerError)
	})
}

func TestListAccountsHidesCredentials(t *testing.T) {
	judge := &fakeJudge{accounts: []model.RemoteAccount{{
		ID: "a1", Type: "spoj", Handle: "bot", Password: "pw", Cookie: []string{"sid=1"},
	}}}
	code, body := serve(t, NewVJudgeController(judge, "node-1", nil, nil), http.MethodGet, "/api/v1/vjudge/accounts")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, string(body.Data), `[{"id":"a1","type":"spoj","handle":"bot"}]`)
}

func TestResync(t *testing.T) {
	code, body := serve(t, NewVJudgeController(&fakeJudge{}, "node-1", nil, nil), http.MethodPost, "/api/v1/vjudge/resync")
	testutil.AssertEqual(t, code, http.StatusAccepted)
	testutil.AssertEqual(t, string(body.Data), `{"accounts":[]}`)

	code, body = serve(t, NewVJudgeController(&fakeJudge{started: []string{"spoj/bot"}}, "node-1", nil, nil), http.MethodPost, "/api/v1/vjudge/resync")
	testutil.AssertEqual(t, code, http.StatusAccepted)
	testutil.AssertEqual(t, string(body.Data), `{"accounts":["spoj/bot"]}`)
}

func TestGetRecord(t *testing.T) {
	records := &fakeRecords{
		snapshots: map[string]*model.RecordSnapshot{"r1": {RID: "r1", Status: model.StatusAccepted, Score: 100, Done: true}},
		events:    map[string][]model.RecordEvent{"r1": {{RID: "r1", Seq: 1, Terminal: true}}},
	}
	h := NewVJudgeController(&fakeJudge{}, "node-1", nil, records)

	code, body := serve(t, h, http.MethodGet, "/api/v1/vjudge/records/r1")
	testutil.AssertEqual(t, code, http.StatusOK)
	var snapshot model.RecordSnapshot
	testutil.MustUnmarshalJSON(t, body.Data, &snapshot)
	testutil.AssertTrue(t, snapshot.Done, "snapshot is returned")
	testutil.AssertEqual(t, snapshot.Score, float64(100))

	code, body = serve(t, h, http.MethodGet, "/api/v1/vjudge/records/r1?events=1")
	testutil.AssertEqual(t, code, http.StatusOK)
	var withEvents struct {
		Events []model.RecordEvent `json:"events"`
	}
	testutil.MustUnmarshalJSON(t, body.Data, &withEvents)
	testutil.AssertEqual(t, len(withEvents.Events), 1)

	code, _ = serve(t, h, http.MethodGet, "/api/v1/vjudge/records/missing")
	testutil.AssertEqual(t, code, http.StatusNotFound)

	code, _ = serve(t, NewVJudgeController(&fakeJudge{}, "node-1", nil, nil), http.MethodGet, "/api/v1/vjudge/records/r1")
	testutil.AssertEqual(t, code, http.StatusServiceUnavailable)
}

func TestStreamRecordPushesUntilTerminal(t *testing.T) {
	judging := model.WithStatus(model.StatusJudging, "")
	records := &fakeRecords{events: map[string][]model.RecordEvent{
		"r1": {{RID: "r1", Seq: 1, Progress: &judging}},
	}}
	h := NewVJudgeController(&fakeJudge{}, "node-1", nil, records)
	h.streamInterval = 10 * time.Millisecond

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.Register(router.Group("/api/v1/vjudge"))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/vjudge/records/r1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	testutil.AssertNoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first model.RecordEvent
	testutil.AssertNoError(t, conn.ReadJSON(&first))
	testutil.AssertEqual(t, first.Seq, 1)

	records.add(model.RecordEvent{RID: "r1", Seq: 2, Terminal: true, Final: &model.Final{Status: model.StatusAccepted, Score: 100}})
	var last model.RecordEvent
	testutil.AssertNoError(t, conn.ReadJSON(&last))
	testutil.AssertTrue(t, last.Terminal, "terminal event is pushed")
	testutil.AssertEqual(t, last.Final.Status, model.StatusAccepted)

	_, _, err = conn.ReadMessage()
	testutil.AssertTrue(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream closes after the terminal event")
}

func TestStreamRecordWithoutCache(t *testing.T) {
	h := NewVJudgeController(&fakeJudge{}, "node-1", nil, nil)
	code, _ := serve(t, h, http.MethodGet, "/api/v1/vjudge/records/r1/stream")
	testutil.AssertEqual(t, code, http.StatusServiceUnavailable)
}

func TestHealthReporter(t *testing.T) {
	server := health.NewServer()
	judge := &fakeJudge{}
	reporter := NewHealthReporter(judge, server)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		testutil.AssertNoError(t, err)
		return resp.Status
	}

	testutil.AssertEqual(t, reporter.Update(context.Background()), healthpb.HealthCheckResponse_SERVING)
	testutil.AssertEqual(t, check(), healthpb.HealthCheckResponse_SERVING)

	judge.statuses = map[string]model.AccountStatus{"spoj/a": {Working: false}, "spoj/b": {Working: false}}
	reporter.Update(context.Background())
	testutil.AssertEqual(t, check(), healthpb.HealthCheckResponse_NOT_SERVING)

	judge.statuses["spoj/b"] = model.AccountStatus{Working: true}
	reporter.Update(context.Background())
	testutil.AssertEqual(t, check(), healthpb.HealthCheckResponse_SERVING)
	resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService + "/spoj/a"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, healthpb.HealthCheckResponse_NOT_SERVING)

	delete(judge.statuses, "spoj/a")
	reporter.Update(context.Background())
	resp, err = server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService + "/spoj/a"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	resp, err = server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService + "/spoj/b"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reporter.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	<-done
	testutil.AssertEqual(t, check(), healthpb.HealthCheckResponse_NOT_SERVING)
}
