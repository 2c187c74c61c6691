package injector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/server"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/job"
)

const shutdownTimeout = 10 * time.Second

// App encapsulates all application dependencies
type App struct {
	Config     *conf.Config
	Logger     *logger.Logger
	Registry   *biz.NodeRegistry
	HTTPServer *server.HTTPServer
	GRPCServer *server.GRPCServer
	Scheduler  *job.Scheduler
}

func newApp(
	config *conf.Config,
	log *logger.Logger,
	registry *biz.NodeRegistry,
	httpServer *server.HTTPServer,
	grpcServer *server.GRPCServer,
	scheduler *job.Scheduler,
) *App {
	return &App{
		Config:     config,
		Logger:     log,
		Registry:   registry,
		HTTPServer: httpServer,
		GRPCServer: grpcServer,
		Scheduler:  scheduler,
	}
}

// RegisterBootstrapNodes upserts the nodes listed in the config file
func (a *App) RegisterBootstrapNodes(ctx context.Context) error {
	for i := range a.Config.Nodes {
		spec, err := a.Config.Nodes[i].Spec()
		if err != nil {
			return fmt.Errorf("bootstrap node %s: %w", a.Config.Nodes[i].NodeID, err)
		}
		if _, err := a.Registry.Register(ctx, spec); err != nil {
			return fmt.Errorf("bootstrap node %s: %w", spec.NodeID, err)
		}
		a.Logger.Info("bootstrap node registered",
			zap.String("node_id", spec.NodeID),
			zap.String("backend", string(spec.BackendType)),
		)
	}
	return nil
}

// Run serves HTTP, gRPC and background jobs until ctx is cancelled or one of them fails
func (a *App) Run(ctx context.Context) error {
	if err := a.RegisterBootstrapNodes(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.HTTPServer.Start)
	g.Go(a.GRPCServer.Start)
	g.Go(func() error {
		return a.Scheduler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down servers...")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.GRPCServer.Stop()
		if err := a.HTTPServer.Stop(stopCtx); err != nil {
			a.Logger.Error("HTTP server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	a.Logger.Info("servers started successfully")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	a.Logger.Info("servers exited")
	return nil
}
