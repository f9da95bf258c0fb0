package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ACSHKESL2020/acseventgridpstn-api/internal/dotenv"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/acs"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/blob"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	gatewayserver "github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/server"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/store"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/voicelive"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	// No ReadTimeout: the media websocket is a long-lived connection.
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	calls, err := acs.NewHTTPCallClient(cfg.ACSConnectionString)
	if err != nil {
		return fmt.Errorf("telephony client: %w", err)
	}

	lc := &lifecycle.Lifecycle{}
	tracker := sessions.NewTracker()
	pending := sessions.NewPendingCalls()

	recorder := recording.NewPipeline(recording.Config{
		Dir:              cfg.RecordingsDir,
		MinArtifactBytes: cfg.MinRecordingBytes,
		StopTimeout:      cfg.EncoderStopTimeout,
	}, recording.NewFFmpegFactory(cfg.FFmpegPath, cfg.SampleRate, 1), logger)

	serverDeps := gatewayserver.Dependencies{
		Lifecycle: lc,
		Sessions:  tracker,
		Pending:   pending,
		Calls:     calls,
		Tokens:    voicelive.StaticTokenProvider(cfg.VoiceLiveAccessToken),
		Recorder:  recorder,
	}

	if cfg.DatabaseURL != "" {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		callStore, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer callStore.Close()
		serverDeps.Store = callStore
		logger.Info("session persistence enabled")
	} else {
		logger.Warn("DATABASE_URL not set, sessions and transcripts will not be persisted")
	}

	if cfg.S3Bucket != "" {
		uploader, err := blob.NewUploader(ctx, cfg.S3Bucket, cfg.S3Region, logger)
		if err != nil {
			return fmt.Errorf("recording uploader: %w", err)
		}
		serverDeps.Uploader = uploader
		logger.Info("recording upload enabled", "bucket", cfg.S3Bucket)
	} else {
		logger.Warn("RECORDINGS_S3_BUCKET not set, recordings stay on local disk")
	}

	gw := gatewayserver.New(cfg, logger, serverDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"base_url", cfg.PublicBaseURL,
		"voice", cfg.VoiceName)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	// Live calls get the grace period to wind down through the normal
	// disconnect path before being force-canceled.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		canceled := tracker.CancelAll()
		logger.Warn("force-canceled live sessions at shutdown", "count", canceled)
		tracker.Wait(context.Background())
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "pstn-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "pstn-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
