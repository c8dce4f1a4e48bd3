// Package api serves the admin HTTP surface: asset and vault configuration,
// the transfer history and the debt monitor.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/recorder"
	"ExchangeObserver/internal/store"
)

// ConfigStore is the configuration surface edited through the API.
type ConfigStore interface {
	Assets(ctx context.Context) ([]model.FundingAsset, error)
	UpsertAsset(ctx context.Context, asset model.FundingAsset) error
	RemoveAsset(ctx context.Context, symbol, network string) error
	VaultAccounts(ctx context.Context) ([]model.VaultAccount, error)
	UpsertVaultAccount(ctx context.Context, vault model.VaultAccount) error
	Thresholds(ctx context.Context) (*model.EquityThresholds, error)
	SetThresholds(ctx context.Context, minUSD, maxUSD decimal.Decimal) error
}

// RequestError is the body of every non-2xx response.
type RequestError struct {
	Error string `json:"error"`
}

// Server holds the handler dependencies.
type Server struct {
	Store    ConfigStore
	Ledger   recorder.Ledger
	Monitor  recorder.DebtMonitor
	Gatherer prometheus.Gatherer
	Logger   log.FieldLogger
}

func NewServer(cfg ConfigStore, ledger recorder.Ledger, monitor recorder.DebtMonitor, gatherer prometheus.Gatherer, logger log.FieldLogger) *Server {
	return &Server{Store: cfg, Ledger: ledger, Monitor: monitor, Gatherer: gatherer, Logger: logger}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/assets", s.listAssets)
		v1.PUT("/assets", s.putAsset)
		v1.DELETE("/assets/:symbol/:network", s.deleteAsset)

		v1.GET("/vaults", s.listVaults)
		v1.PUT("/vaults", s.putVault)

		v1.GET("/thresholds", s.getThresholds)
		v1.PUT("/thresholds", s.putThresholds)

		v1.GET("/transfers", s.listTransfers)
		v1.GET("/monitor", s.listMonitor)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.Logger.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Debug("request served")
	}
}

func (s *Server) abortWithError(c *gin.Context, code int, message string, err error) {
	if err != nil {
		s.Logger.WithError(err).WithField("path", c.Request.URL.Path).Warn(message)
	}
	c.AbortWithStatusJSON(code, RequestError{Error: message})
}

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.Store.Assets(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to list assets", err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

func (s *Server) putAsset(c *gin.Context) {
	var asset model.FundingAsset
	if err := c.ShouldBindJSON(&asset); err != nil {
		s.abortWithError(c, http.StatusBadRequest, "invalid asset body", err)
		return
	}
	if msg := validateAsset(asset); msg != "" {
		s.abortWithError(c, http.StatusBadRequest, msg, nil)
		return
	}
	if err := s.Store.UpsertAsset(c.Request.Context(), asset); err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to save asset", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func validateAsset(a model.FundingAsset) string {
	switch {
	case a.Symbol == "" || a.Network == "":
		return "symbol and network are required"
	case a.CounterpartSymbol == "":
		return "counterpart_symbol is required"
	case a.MinTransferAmount.IsNegative() || a.FundingFee.IsNegative():
		return "amounts must not be negative"
	case a.LockMinutes < 0:
		return "lock_minutes must not be negative"
	}
	return ""
}

func (s *Server) deleteAsset(c *gin.Context) {
	err := s.Store.RemoveAsset(c.Request.Context(), c.Param("symbol"), c.Param("network"))
	switch {
	case errors.Is(err, store.ErrAssetNotFound):
		s.abortWithError(c, http.StatusNotFound, "asset not found", nil)
	case err != nil:
		s.abortWithError(c, http.StatusInternalServerError, "unable to remove asset", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) listVaults(c *gin.Context) {
	vaults, err := s.Store.VaultAccounts(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to list vaults", err)
		return
	}
	c.JSON(http.StatusOK, vaults)
}

func (s *Server) putVault(c *gin.Context) {
	var vault model.VaultAccount
	if err := c.ShouldBindJSON(&vault); err != nil {
		s.abortWithError(c, http.StatusBadRequest, "invalid vault body", err)
		return
	}
	if vault.ID < 0 {
		s.abortWithError(c, http.StatusBadRequest, "id must not be negative", nil)
		return
	}
	if err := s.Store.UpsertVaultAccount(c.Request.Context(), vault); err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to save vault", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getThresholds(c *gin.Context) {
	t, err := s.Store.Thresholds(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to load thresholds", err)
		return
	}
	if t == nil {
		s.abortWithError(c, http.StatusNotFound, "thresholds not configured", nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) putThresholds(c *gin.Context) {
	var body model.EquityThresholds
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortWithError(c, http.StatusBadRequest, "invalid thresholds body", err)
		return
	}
	if body.MinUSD.GreaterThan(body.MaxUSD) {
		s.abortWithError(c, http.StatusBadRequest, "min_usd must not exceed max_usd", nil)
		return
	}
	if err := s.Store.SetThresholds(c.Request.Context(), body.MinUSD, body.MaxUSD); err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to save thresholds", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTransfers(c *gin.Context) {
	filter, err := parseTransferFilter(c)
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	records, err := s.Ledger.ListTransfers(c.Request.Context(), filter)
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to list transfers", err)
		return
	}
	if records == nil {
		records = []model.TransferRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// parseTransferFilter reads last_seen_id, take, asset, from, to and search.
func parseTransferFilter(c *gin.Context) (model.TransferFilter, error) {
	var f model.TransferFilter
	if v := c.Query("last_seen_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("last_seen_id must be an integer")
		}
		f.LastSeenID = id
	}
	if v := c.Query("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("take must be an integer")
		}
		f.Take = n
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(name + " must be an RFC3339 timestamp")
		}
		*dst = &ts
	}
	f.Asset = c.Query("asset")
	f.SearchText = c.Query("search")
	return f, nil
}

func (s *Server) listMonitor(c *gin.Context) {
	entries, err := s.Monitor.List(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, "unable to list monitor", err)
		return
	}
	if entries == nil {
		entries = []model.DebtMonitorEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
