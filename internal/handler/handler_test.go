package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stealthdca/internal/models"
	"stealthdca/internal/pipeline"
	"stealthdca/internal/provider"
	filerepository "stealthdca/internal/repository/file"
	"stealthdca/internal/schedule"
	"stealthdca/internal/tokens"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func do(t *testing.T, r http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func newScheduleRouter(t *testing.T, onFire schedule.FireFunc) (*gin.Engine, *schedule.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := filerepository.New(t.TempDir())
	require.NoError(t, err)
	reg, err := tokens.NewRegistry(nil)
	require.NoError(t, err)
	engine := schedule.NewEngine(store, nil, schedule.DefaultAnchor, nil)
	engine.OnFire = onFire
	engine.Tokens = reg

	r := gin.New()
	(&HealthHandler{Store: store}).Register(r)
	(&ScheduleHandler{Engine: engine}).Register(r)
	return r, engine
}

func createSchedule(t *testing.T, r http.Handler, total *int) models.Schedule {
	t.Helper()
	code, env := do(t, r, http.MethodPost, "/api/v1/schedules", map[string]any{
		"from_asset":       "usdc",
		"to_asset":         "sol",
		"amount":           "25",
		"frequency":        "daily",
		"total_executions": total,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var s models.Schedule
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestHealthAndReady(t *testing.T) {
	r, _ := newScheduleRouter(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}

	gin.SetMode(gin.TestMode)
	bare := gin.New()
	(&HealthHandler{}).Register(bare)
	w := httptest.NewRecorder()
	bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without store: status %d", w.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	r, _ := newScheduleRouter(t, nil)
	s := createSchedule(t, r, nil)
	assert.Equal(t, "USDC", s.FromAsset)
	assert.True(t, s.Active)

	code, env := do(t, r, http.MethodGet, "/api/v1/schedules?active=true", nil)
	require.Equal(t, http.StatusOK, code)
	var items []models.Schedule
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)

	code, env = do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, code)
	var paused models.Schedule
	require.NoError(t, json.Unmarshal(env.Data, &paused))
	assert.False(t, paused.Active)

	code, env = do(t, r, http.MethodGet, "/api/v1/schedules/"+s.ID+"/next", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":"`+s.ID+`","next_fire_time":null}`, string(env.Data))

	code, _ = do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/schedules/"+s.ID, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodGet, "/api/v1/schedules/"+s.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/pause", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateScheduleValidation(t *testing.T) {
	r, _ := newScheduleRouter(t, nil)
	cases := []map[string]any{
		{"from_asset": "SOL", "to_asset": "SOL", "amount": "1", "frequency": "daily"},
		{"from_asset": "SOL", "to_asset": "WSOL", "amount": "1", "frequency": "daily"},
		{"from_asset": "NOPE", "to_asset": "SOL", "amount": "1", "frequency": "daily"},
		{"from_asset": "USDC", "to_asset": "SOL", "amount": "0", "frequency": "daily"},
		{"from_asset": "USDC", "to_asset": "SOL", "amount": "1", "frequency": "yearly"},
		{"to_asset": "SOL", "amount": "1", "frequency": "daily"},
	}
	for _, body := range cases {
		code, _ := do(t, r, http.MethodPost, "/api/v1/schedules", body)
		if code != http.StatusBadRequest {
			t.Fatalf("%v: status %d, want 400", body, code)
		}
	}
}

func TestRunScheduleRecordsExecution(t *testing.T) {
	r, _ := newScheduleRouter(t, func(ctx context.Context, s models.Schedule) (*pipeline.Result, error) {
		return &pipeline.Result{Success: true, Signature: "sig1", OutputAmount: decimal.RequireFromString("0.1")}, nil
	})
	one := 1
	s := createSchedule(t, r, &one)

	code, env := do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/run", nil)
	require.Equal(t, http.StatusOK, code)
	var exec models.Execution
	require.NoError(t, json.Unmarshal(env.Data, &exec))
	assert.True(t, exec.Success)
	assert.Equal(t, "sig1", exec.Signature)

	// Cap of one is used up.
	code, _ = do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/run", nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/schedules/"+s.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/schedules/"+s.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, code)
	var history []models.Execution
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)
}

type fakeSwapper struct {
	events []pipeline.Event
	res    *pipeline.Result
	err    error
	got    pipeline.Request
}

func (f *fakeSwapper) Swap(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error) {
	f.got = req
	for _, e := range f.events {
		sink.Emit(e)
	}
	return f.res, f.err
}

func (f *fakeSwapper) Providers() []provider.Selection {
	return []provider.Selection{{Kind: "pool", Name: "simulated-pool", Simulated: true, Reason: "disabled"}}
}

func newSwapRouter(f *fakeSwapper) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&SwapHandler{Swapper: f}).Register(r)
	return r
}

func swapEvents() []pipeline.Event {
	now := time.Now()
	return []pipeline.Event{
		{Stage: pipeline.StageQuote, Status: pipeline.StatusStart, Message: "quoting", Time: now},
		{Stage: pipeline.StageQuote, Status: pipeline.StatusSuccess, Message: "quoted", Time: now},
	}
}

func TestSwapReturnsResultAndEvents(t *testing.T) {
	f := &fakeSwapper{
		events: swapEvents(),
		res:    &pipeline.Result{Success: true, Signature: "sig", OutputAsset: "SOL"},
	}
	r := newSwapRouter(f)

	code, env := do(t, r, http.MethodPost, "/api/v1/swaps", map[string]any{
		"from_asset": "USDC", "to_asset": "SOL", "amount": "5",
	})
	require.Equal(t, http.StatusOK, code)
	var body swapResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "sig", body.Result.Signature)
	assert.Len(t, body.Events, 2)
	assert.True(t, f.got.Amount.Equal(decimal.NewFromInt(5)))
}

func TestSwapErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", pipeline.ErrInvalidRequest), http.StatusBadRequest},
		{&pipeline.StageError{Stage: pipeline.StageScreen, Err: pipeline.ErrScreeningRejected}, http.StatusUnprocessableEntity},
		{&pipeline.StageError{Stage: pipeline.StagePool, Err: pipeline.ErrPrivacyUnavailable}, http.StatusServiceUnavailable},
		{&pipeline.StageError{Stage: pipeline.StageQuote, Err: pipeline.ErrQuoteFailed}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		r := newSwapRouter(&fakeSwapper{res: &pipeline.Result{}, err: tc.err})
		code, env := do(t, r, http.MethodPost, "/api/v1/swaps", map[string]any{
			"from_asset": "USDC", "to_asset": "SOL", "amount": "5",
		})
		if code != tc.want {
			t.Fatalf("%v: status %d, want %d", tc.err, code, tc.want)
		}
		var se *pipeline.StageError
		if errors.As(tc.err, &se) {
			assert.Equal(t, string(se.Stage), env.Meta["stage"])
		}
	}
}

func TestProviders(t *testing.T) {
	r := newSwapRouter(&fakeSwapper{})
	code, env := do(t, r, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"simulated":true`)
}

func TestSwapStream(t *testing.T) {
	f := &fakeSwapper{
		events: swapEvents(),
		res:    &pipeline.Result{Success: true, Signature: "sig"},
	}
	srv := httptest.NewServer(newSwapRouter(f))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/swaps/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.NoError(t, wsjson.Write(ctx, conn, pipeline.Request{FromAsset: "USDC", ToAsset: "SOL", Amount: decimal.NewFromInt(1)}))

	var msgs []streamMessage
	for {
		var m streamMessage
		require.NoError(t, wsjson.Read(ctx, conn, &m))
		msgs = append(msgs, m)
		if m.Type != "event" {
			break
		}
	}
	require.Len(t, msgs, 3)
	assert.Equal(t, pipeline.StatusStart, msgs[0].Event.Status)
	assert.Equal(t, "result", msgs[2].Type)
	assert.Equal(t, "sig", msgs[2].Result.Signature)
}
