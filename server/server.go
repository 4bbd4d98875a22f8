// Package server wires the validator node together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/engine"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/rpc"
	"github.com/decloud-network/validator/session"
)

const roundsDbDir = "rounds"

type newServerOptionFunc func(*newServerOptions)

type newServerOptions struct {
	client      chain.Client
	session     *session.Session
	datasetOpts []datasets.Option
	engineOpts  []engine.OptionFunc
}

// WithClient uses client instead of dialing the configured RPC endpoint.
func WithClient(client chain.Client) newServerOptionFunc {
	return func(o *newServerOptions) { o.client = client }
}

// WithSession uses s instead of loading the key from the environment or keyfile.
func WithSession(s *session.Session) newServerOptionFunc {
	return func(o *newServerOptions) { o.session = s }
}

func WithDatasetOptions(opts ...datasets.Option) newServerOptionFunc {
	return func(o *newServerOptions) { o.datasetOpts = append(o.datasetOpts, opts...) }
}

func WithEngineOptions(opts ...engine.OptionFunc) newServerOptionFunc {
	return func(o *newServerOptions) { o.engineOpts = append(o.engineOpts, opts...) }
}

type Server struct {
	cfg      config.Config
	store    *config.Store
	session  *session.Session
	client   chain.Client
	datasets *datasets.Manager
	engine   *engine.Engine

	restListener net.Listener
}

// New builds the node from cfg. The config store persists the installed
// dataset set to cfg.ConfigFile whenever it changes.
func New(ctx context.Context, cfg *config.Config, opts ...newServerOptionFunc) (*Server, error) {
	options := newServerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.FromContext(ctx)

	sess := options.session
	if sess == nil {
		var err error
		if sess, err = session.LoginFrom(cfg.KeyFile); err != nil {
			return nil, err
		}
	}
	logger.Info("logged in", zap.String("pubkey", sess.PublicKey()))

	if err := os.MkdirAll(cfg.DbDir, 0o700); err != nil {
		return nil, err
	}
	st, err := loadState(cfg.DbDir, sess.PublicKey(), string(cfg.Network))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DbDir, st); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}

	engineOpts := []engine.OptionFunc{engine.WithConfig(cfg.Engine)}
	client := options.client
	if client == nil {
		reconnects := make(chan struct{}, 1)
		engineOpts = append(engineOpts, engine.WithResyncTrigger(reconnects))
		rpcOpts := cfg.RPCClientOpts()
		rpcOpts.Logger = logger.Named("chain")
		rpcOpts.OnReconnect = func() {
			select {
			case reconnects <- struct{}{}:
			default:
			}
		}
		endpoint := cfg.Endpoints().RPC
		if client, err = chain.NewRPCClient(endpoint, rpcOpts); err != nil {
			return nil, fmt.Errorf("creating rpc client: %w", err)
		}
		logger.Info("using ledger endpoint", zap.String("rpc", endpoint), zap.String("ws", rpcOpts.WSURL))
	}

	store := config.NewStore(cfg)
	datasetOpts := append([]datasets.Option{
		datasets.WithInstalled(cfg.InstalledDatasets),
		datasets.WithWriteBack(store.SetInstalledDatasets),
	}, options.datasetOpts...)
	manager, err := datasets.New(ctx, cfg.Datasets, datasetOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating dataset manager: %w", err)
	}

	engineOpts = append(engineOpts, options.engineOpts...)
	eng, err := engine.New(ctx, filepath.Join(cfg.DbDir, roundsDbDir), client, sess, manager, engineOpts...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("creating round engine: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.RawRESTListener)
	if err != nil {
		eng.Close()
		manager.Close()
		return nil, err
	}
	restListener, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		eng.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	return &Server{
		cfg:          *cfg,
		store:        store,
		session:      sess,
		client:       client,
		datasets:     manager,
		engine:       eng,
		restListener: restListener,
	}, nil
}

func (s *Server) Close() error {
	return errors.Join(s.engine.Close(), s.datasets.Close())
}

// RestAddr returns the address that the REST API is listening on.
func (s *Server) RestAddr() net.Addr {
	return s.restListener.Addr()
}

func (s *Server) PublicKey() string {
	return s.session.PublicKey()
}

func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) Datasets() *datasets.Manager {
	return s.datasets
}

// Start runs the round engine and the REST API until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	if balance, err := s.session.RefreshBalance(ctx, s.client); err != nil {
		logger.Warn("failed to fetch balance", zap.Error(err))
	} else {
		logger.Info("wallet balance", zap.Stringer("balance", balance))
	}

	logger.Info("starting round engine", zap.Object("config", s.cfg.Engine))
	serverGroup.Go(func() error {
		if err := s.engine.Run(ctx); err != nil {
			return fmt.Errorf("round engine: %w", err)
		}
		return nil
	})

	api := rpc.NewServer(s.engine, s.datasets,
		rpc.WithMetrics(s.cfg.Metrics),
		rpc.WithLogger(logger),
	)
	server := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: time.Second * 5}
	serverGroup.Go(func() error {
		logger.Sugar().Infof("REST API listening on %s", s.restListener.Addr())
		err := server.Serve(s.restListener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Errorf("failed to shutdown server: %s", err)
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
		return err
	}
	return nil
}
