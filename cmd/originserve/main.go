// Package main is the entry point of the originserve command. It loads a
// TOML host configuration, starts one listener per distinct port among the
// configured virtual hosts, and runs the admin/metrics listener alongside
// them, all under one errgroup so a fatal error in any of them brings the
// whole process down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/sync/errgroup"

	"github.com/originserve/originserve/hostconfig"
	"github.com/originserve/originserve/logging"
	"github.com/originserve/originserve/metrics"
	"github.com/originserve/originserve/server"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "originserve",
		Short: "originserve is a multi-tenant HTTP origin and reverse-proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, adminAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "originserve.toml", "path to the TOML host configuration file")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:9180", "address the /metrics and /healthz admin endpoint listens on")
	return cmd
}

func run(configPath, adminAddr string) error {
	logger, err := logging.Build(logging.StdoutWriter{}, logging.LevelInfo)
	if err != nil {
		return fmt.Errorf("originserve: building base logger: %w", err)
	}
	defer logger.Sync()

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		logger.Warn("failed to set GOMEMLIMIT", zap.Error(err))
	}

	hosts, err := hostconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("originserve: loading %s: %w", configPath, err)
	}

	if wantsFastCGIBootstrap(hosts) {
		server.BootstrapFastCGI()
	}

	metricsReg := metrics.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	byPort := groupByPort(hosts)

	group, gctx := errgroup.WithContext(ctx)
	for port, portHosts := range byPort {
		srv, err := server.New(portHosts, metricsReg, logger)
		if err != nil {
			return fmt.Errorf("originserve: building server for port %d: %w", port, err)
		}
		group.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	group.Go(func() error {
		admin := &http.Server{Addr: adminAddr, Handler: metricsReg.Mux()}
		go func() {
			<-gctx.Done()
			admin.Close()
		}()
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("originserve: admin listener: %w", err)
		}
		return nil
	})

	logger.Info("originserve starting", zap.Int("host_count", len(hosts)), zap.String("admin_addr", adminAddr))
	return group.Wait()
}

// groupByPort buckets hosts by their configured port, since each Server
// instance answers exactly one shared port.
func groupByPort(hosts []hostconfig.HostConfig) map[uint16][]hostconfig.HostConfig {
	byPort := make(map[uint16][]hostconfig.HostConfig)
	for _, h := range hosts {
		byPort[h.Port] = append(byPort[h.Port], h)
	}
	return byPort
}

// wantsFastCGIBootstrap reports whether any host enables PHP without
// pinning an explicit port or unix socket, meaning it depends on the
// best-effort local php-cgi bootstrap.
func wantsFastCGIBootstrap(hosts []hostconfig.HostConfig) bool {
	for _, h := range hosts {
		if h.PHPEnabled && h.PHPPort == nil && h.PHPSocket == nil {
			return true
		}
	}
	return false
}
