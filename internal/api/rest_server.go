// Package api отдаёт сохранённые реплеи по HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/cache"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/middleware"
	"github.com/annel0/battle-replay/internal/persistence"
	"github.com/annel0/battle-replay/internal/reconstruct"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxUploadBytes   = 16 << 20
)

// ReplayStore асинхронное хранилище реплеев (реализуется persistence.Adapter)
type ReplayStore interface {
	Save(ctx context.Context, s *battle.Session) *persistence.Future[string]
	Load(ctx context.Context, id string) *persistence.Future[*battle.Session]
	ListSummaries(ctx context.Context, filter persistence.SummaryFilter, limit int) *persistence.Future[[]battle.SessionSummary]
	CacheStats() (cache.Stats, bool)
}

// RestServer представляет REST API сервер
type RestServer struct {
	router    *gin.Engine
	server    *http.Server
	replays   ReplayStore
	codec     *persistence.Codec
	jwtSecret []byte
	metrics   *ServerMetrics
	log       *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      string               // адрес для запуска сервера
	Replays   ReplayStore          // хранилище реплеев
	Codec     *persistence.Codec   // кодек документов сессий
	JWTSecret string               // пусто: загрузка без авторизации
	Registry  *prometheus.Registry // регистр метрик; nil: собственный
	Logger    *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.Logger == nil {
		config.Logger = logging.GetAPILogger()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("battle-replay"))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("replay_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	rs := &RestServer{
		router:    router,
		replays:   config.Replays,
		codec:     config.Codec,
		jwtSecret: []byte(config.JWTSecret),
		metrics:   NewServerMetrics(),
		log:       config.Logger,
	}
	rs.server = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.GET("/stats", rs.handleStats)

	replays := api.Group("/replays")
	{
		replays.GET("", rs.handleListReplays)
		replays.GET("/:id", rs.handleGetReplay)
		replays.GET("/:id/state", rs.handleState)
		replays.GET("/:id/highlights", rs.handleHighlights)
		replays.GET("/:id/events", rs.handleEvents)
		replays.GET("/:id/document", rs.handleDocument)
		replays.POST("", rs.jwtMiddleware(), rs.handleUpload)
	}
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler { return rs.router }

func (rs *RestServer) fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

func (rs *RestServer) ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

// loadSession загружает сессию из пути запроса и отвечает ошибкой при неудаче
func (rs *RestServer) loadSession(c *gin.Context) (*battle.Session, bool) {
	id := c.Param("id")
	s, err := rs.replays.Load(c.Request.Context(), id).Await(c.Request.Context())
	switch {
	case err == nil:
		return s, true
	case errors.Is(err, persistence.ErrNotFound):
		rs.fail(c, http.StatusNotFound, "Реплей не найден")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rs.fail(c, http.StatusGatewayTimeout, "Превышено время ожидания хранилища")
	default:
		_ = c.Error(err)
		rs.fail(c, http.StatusServiceUnavailable, "Хранилище недоступно")
	}
	return nil, false
}

// queryFloat читает конечное число; Inf и NaN считаются ошибкой
func queryFloat(c *gin.Context, key string, def float64) (float64, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats возвращает метрики процесса и кеша
func (rs *RestServer) handleStats(c *gin.Context) {
	data := gin.H{"server": rs.metrics.Snapshot()}
	if st, ok := rs.replays.CacheStats(); ok {
		data["cache"] = st
	}
	rs.ok(c, http.StatusOK, "Статистика получена", data)
}

// handleListReplays GET /api/replays?territory=&player=&since=&limit=
func (rs *RestServer) handleListReplays(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok || limit < 0 {
		rs.fail(c, http.StatusBadRequest, "Некорректный limit")
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	filter := persistence.SummaryFilter{
		TerritoryID: c.Query("territory"),
		PlayerID:    c.Query("player"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rs.fail(c, http.StatusBadRequest, "Некорректный since, ожидается RFC3339")
			return
		}
		filter.Since = since
	}

	ctx := c.Request.Context()
	list, err := rs.replays.ListSummaries(ctx, filter, limit).Await(ctx)
	if err != nil {
		_ = c.Error(err)
		rs.fail(c, http.StatusServiceUnavailable, "Хранилище недоступно")
		return
	}
	rs.ok(c, http.StatusOK, "Список реплеев", list)
}

// handleGetReplay GET /api/replays/:id
func (rs *RestServer) handleGetReplay(c *gin.Context) {
	s, ok := rs.loadSession(c)
	if !ok {
		return
	}
	rs.ok(c, http.StatusOK, "Реплей найден", newReplayView(s))
}

// handleState GET /api/replays/:id/state?t=
func (rs *RestServer) handleState(c *gin.Context) {
	t, ok := queryFloat(c, "t", 0)
	if !ok {
		rs.fail(c, http.StatusBadRequest, "Некорректное время t")
		return
	}
	s, ok := rs.loadSession(c)
	if !ok {
		return
	}
	rs.ok(c, http.StatusOK, "Состояние восстановлено", newStateView(reconstruct.Reconstruct(s, t)))
}

// handleHighlights GET /api/replays/:id/highlights?top=
func (rs *RestServer) handleHighlights(c *gin.Context) {
	top, ok := queryInt(c, "top", -1)
	if !ok {
		rs.fail(c, http.StatusBadRequest, "Некорректный top")
		return
	}
	s, ok := rs.loadSession(c)
	if !ok {
		return
	}
	moments := s.Highlights
	if top >= 0 {
		moments = s.TopHighlights(top)
	}
	rs.ok(c, http.StatusOK, "Яркие моменты", newHighlightViews(moments))
}

// handleEvents GET /api/replays/:id/events?from=&to=
// Возвращает события с from < timestamp <= to; без from: с начала записи.
func (rs *RestServer) handleEvents(c *gin.Context) {
	from, okFrom := queryFloat(c, "from", -1)
	to, okTo := queryFloat(c, "to", -1)
	if !okFrom || !okTo {
		rs.fail(c, http.StatusBadRequest, "Некорректный интервал")
		return
	}
	s, ok := rs.loadSession(c)
	if !ok {
		return
	}
	if _, present := c.GetQuery("to"); !present {
		to = s.Duration
	}

	view := eventsView{From: from, To: to, Events: []json.RawMessage{}}
	for _, ev := range s.EventsBetween(from, to) {
		data, err := rs.codec.EncodeEvent(ev)
		if err != nil {
			_ = c.Error(err)
			rs.fail(c, http.StatusInternalServerError, "Ошибка сериализации события")
			return
		}
		view.Events = append(view.Events, data)
	}
	rs.ok(c, http.StatusOK, "События", view)
}

// handleDocument GET /api/replays/:id/document отдаёт сессию в формате хранения
func (rs *RestServer) handleDocument(c *gin.Context) {
	s, ok := rs.loadSession(c)
	if !ok {
		return
	}
	data, err := rs.codec.EncodeSession(s)
	if err != nil {
		_ = c.Error(err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка сериализации сессии")
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+s.ID+".json\"")
	c.Data(http.StatusOK, "application/json", data)
}

// handleUpload POST /api/replays принимает документ сессии
func (rs *RestServer) handleUpload(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
	if err != nil {
		rs.fail(c, http.StatusRequestEntityTooLarge, "Документ слишком большой")
		return
	}

	s, report, err := rs.codec.DecodeSessionReport(body)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, "Некорректный документ сессии")
		return
	}
	if s.ID == "" {
		rs.fail(c, http.StatusBadRequest, "В документе нет id")
		return
	}

	ctx := c.Request.Context()
	id, err := rs.replays.Save(ctx, s).Await(ctx)
	if err != nil {
		_ = c.Error(err)
		rs.fail(c, http.StatusServiceUnavailable, "Не удалось сохранить реплей")
		return
	}
	subject, _ := c.Get("subject")
	rs.log.Info("Загружен реплей %s (%d событий) от %v", id, len(s.Events), subject)
	rs.ok(c, http.StatusCreated, "Реплей сохранён", gin.H{"id": id, "report": report})
}

// Start запускает REST сервер и блокируется до остановки
func (rs *RestServer) Start() error {
	rs.log.Info("REST API слушает %s", rs.server.Addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
