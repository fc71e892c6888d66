package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"trading-screener/internal/model"
)

type handlers struct {
	d   Deps
	log *slog.Logger
}

func (h *handlers) health(c echo.Context) error {
	if h.d.Health == nil {
		return ok(c, map[string]string{"status": "healthy"})
	}
	rep := h.d.Health.Snapshot()
	status := http.StatusOK
	if rep.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	return respond(c, status, rep)
}

type positionsRequest struct {
	Status   string `query:"status" validate:"omitempty,oneof=OPEN TARGET_HIT STOPPED EXPIRED"`
	Strategy string `query:"strategy" validate:"omitempty,max=64"`
	Symbol   string `query:"symbol" validate:"omitempty,alphanum,max=12"`
}

func (h *handlers) positions(c echo.Context) error {
	var req positionsRequest
	if errs := bind(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}
	ps, err := h.d.Positions.List(c.Request().Context(), model.PositionFilter{
		Status:     model.Status(req.Status),
		StrategyID: req.Strategy,
		Symbol:     req.Symbol,
	})
	if err != nil {
		h.log.Error("list positions", slog.String("error", err.Error()))
		return fail(c, err)
	}
	if ps == nil {
		ps = []model.Position{}
	}
	return ok(c, ps)
}

func (h *handlers) position(c echo.Context) error {
	p, err := h.d.Positions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, p)
}

type statsRequest struct {
	Strategy string `query:"strategy" validate:"omitempty,max=64"`
	Days     int    `query:"days" default:"30" validate:"gte=1,lte=3650"`
}

func (h *handlers) stats(c echo.Context) error {
	var req statsRequest
	if errs := bind(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}
	since := time.Now().AddDate(0, 0, -req.Days)
	s, err := h.d.Stats.Summary(c.Request().Context(), req.Strategy, since)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, s)
}

func (h *handlers) strategies(c echo.Context) error {
	out := h.d.Strategies
	if out == nil {
		out = []StrategyInfo{}
	}
	return ok(c, out)
}

type runsRequest struct {
	Strategy string `query:"strategy" validate:"omitempty,max=64"`
	Limit    int    `query:"limit" default:"20" validate:"gte=1,lte=500"`
}

func (h *handlers) runs(c echo.Context) error {
	if h.d.Runs == nil {
		return respond(c, http.StatusNotImplemented, []FieldError{{Code: "ERR_NO_JOURNAL", Message: "store keeps no run journal"}})
	}
	var req runsRequest
	if errs := bind(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}
	rs, err := h.d.Runs.Runs(c.Request().Context(), req.Strategy, req.Limit)
	if err != nil {
		return fail(c, err)
	}
	if rs == nil {
		rs = []model.RunRecord{}
	}
	return ok(c, rs)
}

type wsRequest struct {
	LastSeq int64 `query:"last_seq" validate:"gte=0"`
}

func (h *handlers) ws(c echo.Context) error {
	var req wsRequest
	if errs := bind(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}
	h.d.Feed.Serve(conn, req.LastSeq)
	return nil
}
