package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"evalgo.org/chainmgr/internal/api"
	"evalgo.org/chainmgr/internal/configgen"
	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/internal/group"
	"evalgo.org/chainmgr/internal/logging"
	"evalgo.org/chainmgr/internal/netutil"
	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/internal/remote"
	"evalgo.org/chainmgr/internal/runtime"
	"evalgo.org/chainmgr/internal/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server together with the provisioning engine.

Lifecycle requests are validated and recorded synchronously; remote work
(file transfer, container start and stop) runs in the background.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := storage.New(cfg.Database, log.WithField("component", "storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("closing storage: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	layout := paths.New(afero.NewOsFs(), cfg.Deploy)
	gen := configgen.New(layout, configgen.Options{
		DockerDaemonPort: cfg.Deploy.DockerDaemonPort,
		LogLevel:         cfg.Logging.Level,
	})

	dialer, err := remote.NewDialer(cfg.SSH, cfg.Engine.DialRetries, log.WithField("component", "ssh"))
	if err != nil {
		return fmt.Errorf("failed to initialize ssh dialer: %w", err)
	}
	prov := remote.NewProvisioner(dialer, layout, cfg.Deploy.ImageRepository, log.WithField("component", "provisioner"))

	clients := runtime.NewClientManager(dialer, log.WithField("component", "docker"))
	defer func() {
		if err := clients.Close(); err != nil {
			log.Warnf("closing docker clients: %v", err)
		}
	}()
	rt := runtime.New(clients, layout, cfg.Deploy.ImageRepository, log.WithField("component", "runtime"))

	eng := engine.New(cfg.Engine, store, prov, rt, engine.NewMetrics(registry), log.WithField("component", "engine"))

	svc := deploy.New(cfg, deploy.Dependencies{
		Store:     store,
		Paths:     layout,
		Generator: gen,
		Groups:    group.NewManager(gen, layout),
		Hosts:     prov,
		Engine:    eng,
		Local:     netutil.NewLocalIdentity(cfg.Deploy.LocalIPs),
		Log:       log.WithField("component", "deploy"),
	})

	server := api.New(cfg, api.Dependencies{
		Orchestrator: svc,
		Health:       store,
		Registry:     registry,
		Log:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return shutdown(log, server, eng)

	case err := <-errChan:
		_ = shutdown(log, server, eng)
		return fmt.Errorf("server error: %w", err)
	}
}

// shutdown stops the HTTP server first so no new work is scheduled, then
// drains the engine.
func shutdown(log logrus.FieldLogger, server *api.Server, eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := eng.Shutdown(ctx); err != nil {
		log.Warnf("engine shutdown: %v", err)
	}
	return nil
}
