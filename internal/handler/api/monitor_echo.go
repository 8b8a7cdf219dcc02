package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
	icache "Trape/internal/service/cache"
	svcmetrics "Trape/internal/service/metrics"
	"Trape/internal/usecase"
	xhttp "Trape/pkg/http"
	xlogger "Trape/pkg/logger"
	"Trape/pkg/util"

	"github.com/labstack/echo/v4"
)

// MarketReader is the read side of the buffer served over HTTP.
type MarketReader interface {
	GetSymbols() []string
	Snapshot(symbol string) (models.SymbolSnapshot, bool)
	Prices() []models.CurrentPrice
	StatsFor(res models.Resolution) []models.StatsWindow
	GetLatestMA10mAndMA30mCrossing(symbol string) models.CrossingEvent
	GetLatestMA1hAndMA3hCrossing(symbol string) models.CrossingEvent
	GetLastFallingPrice(symbol string) models.FallingPrice
}

type RecommendationReader interface {
	Latest(symbol string) (models.Recommendation, bool)
}

type AgentReader interface {
	Statuses() []usecase.AgentStatus
}

type HealthReader interface {
	Health() []usecase.ComponentHealth
	Healthy() bool
}

type MonitorDeps struct {
	Market          MarketReader
	Recommendations RecommendationReader
	// Agents is nil when trading is disabled.
	Agents AgentReader
	Health HealthReader
	// Trends and Prices are nil without a statistics store.
	Trends   domrepo.TrendStore
	Prices   domrepo.PriceStore
	TrendTTL time.Duration
	Logger   *xlogger.Logger
}

// MonitorHandler serves the read-only monitoring API.
type MonitorHandler struct {
	deps   MonitorDeps
	logger *xlogger.Logger
	trends *icache.TTLCache
}

func NewMonitorHandler(deps MonitorDeps) *MonitorHandler {
	if deps.TrendTTL <= 0 {
		deps.TrendTTL = 5 * time.Second
	}
	l := deps.Logger
	if l == nil {
		l = xlogger.Nop()
	}
	return &MonitorHandler{
		deps:   deps,
		logger: l.With(xlogger.String("component", "monitor_api")),
		trends: icache.NewTTLCache(),
	}
}

func (h *MonitorHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.observe("health", h.Health))
	g.GET("/symbols", h.observe("symbols", h.Symbols))
	g.GET("/prices", h.observe("prices", h.Prices))
	g.GET("/stats", h.observe("stats", h.Stats))
	g.GET("/snapshot/:symbol", h.observe("snapshot", h.Snapshot))
	g.GET("/crossings", h.observe("crossings", h.Crossings))
	g.GET("/recommendations", h.observe("recommendations", h.Recommendations))
	g.GET("/agents", h.observe("agents", h.Agents))
	g.GET("/trends", h.observe("trends", h.Trends))
	g.GET("/current-prices", h.observe("current_prices", h.CurrentPrices))
}

func (h *MonitorHandler) observe(endpoint string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		svcmetrics.MonitorLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil || c.Response().Status >= http.StatusInternalServerError {
			svcmetrics.MonitorErrors.WithLabelValues(endpoint).Inc()
		}
		return err
	}
}

type healthResponse struct {
	Healthy    bool                      `json:"healthy"`
	Components []usecase.ComponentHealth `json:"components"`
}

func (h *MonitorHandler) Health(c echo.Context) error {
	res := healthResponse{Healthy: h.deps.Health.Healthy(), Components: h.deps.Health.Health()}
	if !res.Healthy {
		return xhttp.ServiceUnavailableResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MonitorHandler) Symbols(c echo.Context) error {
	symbols := h.deps.Market.GetSymbols()
	return xhttp.ListResponse(c, symbols, int64(len(symbols)))
}

func (h *MonitorHandler) Prices(c echo.Context) error {
	prices := h.deps.Market.Prices()
	return xhttp.ListResponse(c, prices, int64(len(prices)))
}

func (h *MonitorHandler) Stats(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	windows := h.deps.Market.StatsFor(domrepo.NormalizeResolution(req.Resolution))
	if req.Symbol != "" {
		symbol := strings.ToUpper(req.Symbol)
		filtered := windows[:0:0]
		for _, w := range windows {
			if w.Symbol == symbol {
				filtered = append(filtered, w)
			}
		}
		windows = filtered
	}
	return xhttp.ListResponse(c, windows, int64(len(windows)))
}

func (h *MonitorHandler) Snapshot(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	snap, ok := h.deps.Market.Snapshot(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not tracked", symbol))
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *MonitorHandler) Crossings(c echo.Context) error {
	symbols := h.deps.Market.GetSymbols()
	out := make([]models.SymbolCrossings, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, models.SymbolCrossings{
			Symbol:      s,
			MA10mMA30m:  h.deps.Market.GetLatestMA10mAndMA30mCrossing(s),
			MA1hMA3h:    h.deps.Market.GetLatestMA1hAndMA3hCrossing(s),
			LastFalling: h.deps.Market.GetLastFallingPrice(s),
		})
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *MonitorHandler) Recommendations(c echo.Context) error {
	req := &models.RecommendationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		t, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since).WithParam("field", "since"))
		}
		since = t
	}

	symbols := h.deps.Market.GetSymbols()
	if req.Symbol != "" {
		symbols = []string{strings.ToUpper(req.Symbol)}
	}
	out := make([]models.Recommendation, 0, len(symbols))
	for _, s := range symbols {
		rec, ok := h.deps.Recommendations.Latest(s)
		if !ok || rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *MonitorHandler) Agents(c echo.Context) error {
	if h.deps.Agents == nil {
		return xhttp.ListResponse(c, []usecase.AgentStatus{}, 0)
	}
	statuses := h.deps.Agents.Statuses()
	return xhttp.ListResponse(c, statuses, int64(len(statuses)))
}

func (h *MonitorHandler) Trends(c echo.Context) error {
	req := &models.TrendRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.deps.Trends == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("statistics store is disabled"))
	}
	res := domrepo.NormalizeResolution(req.Resolution)
	ctx := c.Request().Context()
	rows, err := icache.GetOrLoad(h.trends, "trend:"+string(res), h.deps.TrendTTL, func() ([]domrepo.TrendRow, error) {
		return h.deps.Trends.FetchTrend(ctx, res)
	})
	if err != nil {
		h.logger.Error("fetch trend failed", xlogger.String("resolution", req.Resolution), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trend query failed").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *MonitorHandler) CurrentPrices(c echo.Context) error {
	if h.deps.Prices == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("statistics store is disabled"))
	}
	ctx := c.Request().Context()
	if symbol := c.QueryParam("symbol"); symbol != "" {
		p, err := h.deps.Prices.CurrentPrice(ctx, strings.ToUpper(symbol))
		if err != nil {
			if errors.Is(err, models.ErrSymbolNotFound) {
				return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no stored price for %s", strings.ToUpper(symbol)))
			}
			h.logger.Error("current price query failed", xlogger.String("symbol", symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("price query failed").WithError(err))
		}
		return xhttp.SuccessResponse(c, p)
	}
	prices, err := h.deps.Prices.CurrentPrices(ctx)
	if err != nil {
		h.logger.Error("current prices query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("price query failed").WithError(err))
	}
	return xhttp.ListResponse(c, prices, int64(len(prices)))
}
