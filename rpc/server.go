package rpc

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/engine"
	"github.com/decloud-network/validator/logging"
)

//go:generate mockgen -package mocks -destination mocks/services.go . RoundService,DatasetService

// RoundService is the part of the round engine exposed over HTTP.
type RoundService interface {
	PublicKey() string
	GetAllRounds(ctx context.Context) ([]engine.RoundView, error)
	GetMissingDatasets(ctx context.Context) ([]string, error)
	AbortRound(ctx context.Context, id uint64, callerKey string) (string, error)
	ClaimReward(ctx context.Context, id uint64) (string, error)
}

// DatasetService is the part of the dataset manager exposed over HTTP.
type DatasetService interface {
	ListDatasets() []datasets.Record
	Record(name string) (datasets.Record, error)
	ListCategories() map[datasets.Category][]string
	EstimateTotalSize() uint64
	Download(ctx context.Context, name string) (*datasets.Result, error)
	DownloadCategory(ctx context.Context, category datasets.Category, skipLarge bool) (*datasets.BatchResult, error)
	DownloadMinimal(ctx context.Context) (*datasets.BatchResult, error)
	DownloadAll(ctx context.Context, skipLarge bool) (*datasets.BatchResult, error)
	Remove(name string) error
}

type Server struct {
	e        *echo.Echo
	rounds   RoundService
	datasets DatasetService
}

type serverOptions struct {
	metrics bool
	logger  *zap.Logger
}

type ServerOption func(*serverOptions)

// WithMetrics serves prometheus metrics on /metrics.
func WithMetrics(enabled bool) ServerOption {
	return func(o *serverOptions) { o.metrics = enabled }
}

func WithLogger(logger *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

func NewServer(rounds RoundService, data DatasetService, opts ...ServerOption) *Server {
	options := serverOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{
		e:        e,
		rounds:   rounds,
		datasets: data,
	}

	e.Use(loggerMiddleware(options.logger))
	g := e.Group("/v1/")

	g.GET("status", s.getStatus)

	g.GET("rounds", s.getRounds)
	g.GET("rounds/missing-datasets", s.getMissingDatasets)
	g.POST("rounds/:id/abort", s.abortRound)
	g.POST("rounds/:id/claim-reward", s.claimReward)

	g.GET("datasets", s.getDatasets)
	g.GET("datasets/categories", s.getCategories)
	g.GET("datasets/:name", s.getDataset)
	g.DELETE("datasets/:name", s.removeDataset)
	g.POST("datasets/download", s.download)

	if options.metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.e
}

// loggerMiddleware tags every request with an id and puts the logger in the
// request context.
func loggerMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			logger := logger.Named("rpc").With(
				zap.Stringer("request_id", uuid.New()),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			)
			c.SetRequest(req.WithContext(logging.NewContext(req.Context(), logger)))
			logger.Debug("new request")

			err := next(c)
			if err != nil {
				logger.Info("FAILURE", zap.Error(err))
			}
			return err
		}
	}
}
