package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/cache"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/persistence"
	"github.com/annel0/battle-replay/internal/vec"
)

const testSecret = "test-secret-key"

func at(x, z float64) vec.Vec3Float { return vec.Vec3Float{X: x, Z: z} }

func testSession(id, territory string, start time.Time) *battle.Session {
	s := &battle.Session{
		ID:          id,
		TerritoryID: territory,
		AttackerID:  "p1",
		DefenderID:  "p2",
		StartTime:   start,
		Duration:    10,
		AttackerWon: true,
		InitialBuildings: []battle.BuildingSnapshot{
			{ID: "hq", Type: "TownHall", Position: at(10, 10), Health: 200, MaxHealth: 200},
		},
		Events: []battle.BattleEvent{
			{Type: battle.EventBattleStarted},
			{Type: battle.EventUnitSpawned, Timestamp: 1, UnitID: "u2", UnitType: "Archer", Value: 40, IsAttackerSide: true},
			{Type: battle.EventUnitSpawned, Timestamp: 1, UnitID: "u1", UnitType: "Knight", Value: 100, IsAttackerSide: true},
			{Type: battle.EventUnitMoved, Timestamp: 3, UnitID: "u1", Position: at(6, 0), IsAttackerSide: true},
			{Type: battle.EventBuildingDamaged, Timestamp: 4, TargetID: "hq", SourceID: "u1", Value: 150, IsAttackerSide: true},
			{Type: battle.EventUnitDied, Timestamp: 5, UnitID: "u2"},
			{Type: battle.EventBattleEnded, Timestamp: 10, Value: 1, IsAttackerSide: true},
		},
	}
	s.Stats = battle.ComputeStats(s.Events, s.Duration)
	s.Highlights = highlight.Detect(s.Events, highlight.DefaultConfig())
	s.Freeze()
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	server  *RestServer
	adapter *persistence.Adapter
	codec   *persistence.Codec
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	codec := persistence.NewCodec(highlight.DefaultConfig())
	adapter := persistence.NewAdapter(persistence.NewMemoryStore(codec),
		persistence.WithCache(cache.NewLocalCache(4)))
	t.Cleanup(func() { _ = adapter.Close() })

	server := NewRestServer(Config{
		Replays:   adapter,
		Codec:     codec,
		JWTSecret: secret,
		Registry:  prometheus.NewRegistry(),
	})

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []*battle.Session{
		testSession("r1", "north", base),
		testSession("r2", "south", base.Add(time.Hour)),
		testSession("r3", "north", base.Add(2*time.Hour)),
	} {
		_, err := adapter.Save(context.Background(), s).Await(context.Background())
		require.NoError(t, err, "сессия %d", i)
	}
	return &fixture{server: server, adapter: adapter, codec: codec}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	w, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListReplays(t *testing.T) {
	f := newFixture(t, "")

	w, env := f.do(t, http.MethodGet, "/api/replays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []battle.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 3)
	assert.Equal(t, "r3", list[0].ID)

	_, env = f.do(t, http.MethodGet, "/api/replays?territory=north&limit=1", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "r3", list[0].ID)

	_, env = f.do(t, http.MethodGet, "/api/replays?since=2024-06-01T12:30:00Z", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	w, _ = f.do(t, http.MethodGet, "/api/replays?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/replays?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReplay(t *testing.T) {
	f := newFixture(t, "")

	w, env := f.do(t, http.MethodGet, "/api/replays/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		ID               string              `json:"id"`
		EventCount       int                 `json:"eventCount"`
		InitialBuildings []buildingView      `json:"initialBuildings"`
		Stats            battle.SessionStats `json:"stats"`
		Highlights       []highlightView     `json:"highlights"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "r1", view.ID)
	assert.Equal(t, 7, view.EventCount)
	require.Len(t, view.InitialBuildings, 1)
	assert.Equal(t, 150.0, view.Stats.Attacker.DamageDealt)
	require.NotEmpty(t, view.Highlights)
	assert.Equal(t, "BattleOutcome", view.Highlights[0].Type)

	w, env = f.do(t, http.MethodGet, "/api/replays/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestReplayState(t *testing.T) {
	f := newFixture(t, "")

	w, env := f.do(t, http.MethodGet, "/api/replays/r1/state?t=4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st stateView
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 4.0, st.Time)
	require.Len(t, st.Units, 2)
	assert.Equal(t, "u1", st.Units[0].ID)
	assert.Equal(t, "u2", st.Units[1].ID)
	require.Len(t, st.Buildings, 1)
	assert.Equal(t, 50.0, st.Buildings[0].Health)

	_, env = f.do(t, http.MethodGet, "/api/replays/r1/state?t=6", nil)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Len(t, st.Units, 1)

	w, _ = f.do(t, http.MethodGet, "/api/replays/r1/state?t=later", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNonFiniteTimeRejected(t *testing.T) {
	f := newFixture(t, "")

	for _, path := range []string{
		"/api/replays/r1/state?t=Inf",
		"/api/replays/r1/state?t=-Inf",
		"/api/replays/r1/state?t=NaN",
		"/api/replays/r1/events?from=NaN",
		"/api/replays/r1/events?to=%2BInf",
	} {
		w, env := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.False(t, env.Success, path)
	}
}

func TestReplayHighlightsAndEvents(t *testing.T) {
	f := newFixture(t, "")

	_, env := f.do(t, http.MethodGet, "/api/replays/r1/highlights?top=1", nil)
	var moments []highlightView
	require.NoError(t, json.Unmarshal(env.Data, &moments))
	require.Len(t, moments, 1)
	assert.Equal(t, 5, moments[0].Importance)

	_, env = f.do(t, http.MethodGet, "/api/replays/r1/events?from=1&to=5", nil)
	var events eventsView
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events.Events, 3)
	ev, err := f.codec.DecodeEvent(events.Events[0])
	require.NoError(t, err)
	assert.Equal(t, battle.EventUnitMoved, ev.Type)

	_, env = f.do(t, http.MethodGet, "/api/replays/r1/events", nil)
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events.Events, 7)
	assert.Equal(t, 10.0, events.To)
}

func TestDocumentAndUpload(t *testing.T) {
	f := newFixture(t, testSecret)

	w, _ := f.do(t, http.MethodGet, "/api/replays/r2/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := bytes.Replace(w.Body.Bytes(), []byte(`"r2"`), []byte(`"r9"`), 1)

	w, _ = f.do(t, http.MethodPost, "/api/replays", doc)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/replays", doc, "Authorization", "Bearer nonsense")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := IssueToken([]byte(testSecret), "uploader", "writer", time.Minute)
	require.NoError(t, err)
	auth := "Bearer " + token

	w, env := f.do(t, http.MethodPost, "/api/replays", doc, "Authorization", auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "r9", created.ID)

	got, err := f.adapter.Load(context.Background(), "r9").Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Events, 7)

	w, _ = f.do(t, http.MethodPost, "/api/replays", []byte(`{"broken"`), "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/replays", []byte(`{"events":[]}`), "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenValidation(t *testing.T) {
	secret := []byte(testSecret)
	token, err := IssueToken(secret, "bot", "writer", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "bot", claims.Subject)
	assert.Equal(t, "writer", claims.Role)

	_, err = ValidateToken([]byte("other"), token)
	assert.Error(t, err)

	expired, err := IssueToken(secret, "bot", "writer", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(secret, expired)
	assert.Error(t, err)
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	f.do(t, http.MethodGet, "/api/replays/r1", nil)

	w, env := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Server ProcessStats `json:"server"`
		Cache  cache.Stats  `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Greater(t, stats.Server.Goroutines, 0)
	assert.Greater(t, stats.Cache.Hits+stats.Cache.Misses, int64(-1))

	w, _ = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "replay_api_http_request_duration_seconds")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "")
	w, _ := f.do(t, http.MethodOptions, "/api/replays", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
