// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th July 2026 9:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/app"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/server"
)

// Exit codes: 0 success, 1 configuration error, 2 authentication (OIDC)
// failure, 3 backend unavailable.
const (
	exitOK = iota
	exitConfig
	exitAuth
	exitBackend
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	debugFlag    = flag.Bool("debug", false, "Enable debug logging")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("freva-rest version %s\n", common.GetFullVersion())
		return exitOK
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("freva-rest.toml"); err == nil {
			configFiles = append(configFiles, "freva-rest.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Error().Err(err).Msg("Failed to load configuration")
		return exitConfig
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost, *debugFlag)

	logger := common.BuildLogger(config)
	common.InitLogger(logger)
	common.PrintBanner(config, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		if apierrors.IsKind(err, apierrors.KindBackendUnavailable) {
			// OIDC discovery failure is the one backend whose absence makes
			// authentication impossible rather than the service degraded.
			if errors.Is(err, context.Canceled) {
				return exitOK
			}
			return exitAuth
		}
		return exitBackend
	}

	httpServer := server.New(application)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpServer.Start()
	})
	group.Go(func() error {
		err := application.RunStats(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = group.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closeErr := application.Close(closeCtx); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("Shutdown left connections behind")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Service terminated with error")
		return exitBackend
	}
	logger.Info().Msg("Service stopped")
	return exitOK
}
