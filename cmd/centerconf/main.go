package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trustnet/centerconf/anchor"
	"github.com/trustnet/centerconf/cmd/flags"
	"github.com/trustnet/centerconf/distribution"
	"github.com/trustnet/centerconf/hamonitor"
	"github.com/trustnet/centerconf/httpserver"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/parts"
	"github.com/trustnet/centerconf/signer"
	"github.com/trustnet/centerconf/sources"
	"github.com/trustnet/centerconf/storage"
	"github.com/trustnet/centerconf/trustanchor"
	"github.com/urfave/cli/v2"
)

var serviceFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "data-dir",
		Value: "/var/lib/centerconf",
		Usage: "directory for configuration sources, parts and trusted anchors",
	},
	&cli.StringFlag{
		Name:     "instance-identifier",
		Required: true,
		Usage:    "instance identifier of this trust network",
	},
	&cli.StringFlag{
		Name:  "node-name",
		Value: "standalone",
		Usage: "name of this node in an HA cluster",
	},
	&cli.StringSliceFlag{
		Name:  "central-address",
		Usage: "address downstream servers download configuration from (repeatable)",
	},
	&cli.StringSliceFlag{
		Name:  "member-class",
		Usage: "member class accepted in identifier mappings (repeatable)",
	},
	&cli.StringFlag{
		Name:  "signer-addr",
		Value: "http://127.0.0.1:5558",
		Usage: "address of the signer gateway API",
	},
	&cli.Int64Flag{
		Name:  "signer-timeout-seconds",
		Value: 30,
		Usage: "timeout for signer gateway calls",
	},
	&cli.StringFlag{
		Name:  "private-params-validator",
		Usage: "program validating private parameters uploads",
	},
	&cli.StringFlag{
		Name:  "shared-params-validator",
		Usage: "program validating shared parameters uploads",
	},
	&cli.StringFlag{
		Name:  "anchor-verify-program",
		Usage: "program verifying trusted anchor files before import",
	},
	&cli.StringSliceFlag{
		Name:  "mirror-uri",
		Usage: "distribution mirror location URI, e.g. file:///srv/conf or s3://bucket/prefix (repeatable)",
	},
	&cli.StringFlag{
		Name:  "ha-dsn",
		Usage: "PostgreSQL DSN for HA cluster status queries (empty disables the cluster monitor)",
	},
	&cli.Int64Flag{
		Name:  "upload-session-ttl-minutes",
		Value: 60,
		Usage: "minutes a staged trusted anchor upload stays confirmable",
	},
}

func main() {
	app := &cli.App{
		Name:  "centerconf",
		Usage: "Central server configuration management and trust distribution service",
		Flags: append(serviceFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			dataDir := cCtx.String("data-dir")
			instanceIdentifier := cCtx.String("instance-identifier")
			nodeName := cCtx.String("node-name")

			logger := flags.SetupLogger(cCtx)

			store, err := storage.NewFileStore(dataDir, nodeName, logger)
			if err != nil {
				logger.Error("Failed to open data directory", "dir", dataDir, "err", err)
				return err
			}
			if err := store.Bootstrap(); err != nil {
				logger.Error("Failed to bootstrap configuration sources", "err", err)
				return err
			}
			if err := seedSettings(store, cCtx, instanceIdentifier); err != nil {
				logger.Error("Failed to seed system settings", "err", err)
				return err
			}

			// Distribution mirrors are optional; without them artifacts are
			// only served from the local store.
			var mirror interfaces.DistributionBackend
			if mirrorURIs := cCtx.StringSlice("mirror-uri"); len(mirrorURIs) > 0 {
				mirror, err = distribution.NewFactory(logger).MultiBackendFor(mirrorURIs)
				if err != nil {
					logger.Error("Failed to configure distribution mirrors", "err", err)
					return err
				}
				logger.Info("Distribution mirrors configured", "location", mirror.LocationURI())
			}

			gateway := signer.NewClient(
				cCtx.String("signer-addr"),
				time.Duration(cCtx.Int64("signer-timeout-seconds"))*time.Second,
				logger,
			)

			sourceManager := sources.NewManager(store, gateway, anchor.NewGenerator(store), mirror, logger)

			validator := parts.NewScriptValidator(map[string]string{
				interfaces.ContentIDPrivateParameters: cCtx.String("private-params-validator"),
				interfaces.ContentIDSharedParameters:  cCtx.String("shared-params-validator"),
			}, logger)
			partStore := parts.NewStore(store, store, validator, mirror, nodeName,
				dataDir+"/logs/part_uploads.log", logger)

			var verifier interfaces.AnchorVerifier
			if program := cCtx.String("anchor-verify-program"); program != "" {
				verifier = trustanchor.NewScriptVerifier(program, logger)
			}
			registry, err := trustanchor.NewRegistry(store, store, verifier,
				dataDir+"/staging",
				time.Duration(cCtx.Int64("upload-session-ttl-minutes"))*time.Minute,
				logger)
			if err != nil {
				logger.Error("Failed to open trusted anchor registry", "err", err)
				return err
			}
			if err := registry.SweepOrphans(); err != nil {
				logger.Warn("Failed to sweep orphaned upload sessions", "err", err)
			}

			var monitor *hamonitor.Monitor
			if dsn := cCtx.String("ha-dsn"); dsn != "" {
				driver, err := hamonitor.NewPGDriver(cCtx.Context, dsn, 10*time.Second, logger)
				if err != nil {
					logger.Error("Failed to connect to HA cluster database", "err", err)
					return err
				}
				defer driver.Close()
				monitor = hamonitor.NewMonitor(driver, logger)
				logger.Info("HA cluster monitor enabled", "node", nodeName)
			}

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			handler := httpserver.NewHandler(sourceManager, partStore, registry, monitor, logger)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			sweepDone := make(chan struct{})
			go sweepLoop(registry, sweepDone)

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			close(sweepDone)
			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// seedSettings writes the initial system settings on first start. Existing
// settings are kept; the operator changes them through the API afterwards.
func seedSettings(store *storage.FileStore, cCtx *cli.Context, instanceIdentifier string) error {
	current, err := store.GetSettings()
	if err == nil {
		if current.InstanceIdentifier != instanceIdentifier {
			return errors.New("instance-identifier flag does not match stored settings")
		}
		return nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}

	return store.SaveSettings(&interfaces.Settings{
		InstanceIdentifier: instanceIdentifier,
		CentralAddresses:   cCtx.StringSlice("central-address"),
		MemberClasses:      cCtx.StringSlice("member-class"),
	})
}

func sweepLoop(registry *trustanchor.Registry, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			registry.SweepExpired()
		case <-done:
			return
		}
	}
}
