package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"notification_relay/form"
	"notification_relay/logging"
	"notification_relay/relay"
	"notification_relay/server"
)

var (
	configPath string
	listenAddr string
	watch      bool

	endpoint string
	title    string
	body     string
	user     string
	password string
)

func main() {
	if err := newCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "notification-relay",
		Short:         "Relay operator notifications to a broadcast webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin form and dispatch endpoint",
		RunE:  serveHandler,
	}
	serveCmd.Flags().StringVar(&configPath, "config", "config/config.json", "path to config (.json, .yaml)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "http listen address (overrides config.server_addr)")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "reload broadcast settings when the config file changes")

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Submit one notification to a running relay",
		RunE:  sendHandler,
	}
	sendCmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8080/api/notifications", "relay submission endpoint")
	sendCmd.Flags().StringVar(&title, "title", "", "notification title")
	sendCmd.Flags().StringVar(&body, "body", "", "notification body")
	sendCmd.Flags().StringVar(&user, "user", "", "admin username")
	sendCmd.Flags().StringVar(&password, "password", "", "admin password")

	rootCmd.AddCommand(serveCmd, sendCmd)
	return rootCmd
}

func serveHandler(cmd *cobra.Command, args []string) error {
	boot := logging.NewConsole("info")

	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		boot.Warn().Err(err).Msg("falling back to console logging")
		logger = boot
	} else {
		defer closer.Close()
	}

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	dispatcher, err := relay.New(settings, &http.Client{}, logger)
	if err != nil {
		return err
	}

	gate := server.NewGate(cfg.Admin.Username, cfg.Admin.Password)
	if _, open := gate.(server.OpenGate); open {
		logger.Warn().Msg("admin credentials not configured; the form is reachable without authentication")
	}
	srv, err := server.New(dispatcher, server.Options{
		Gate:     gate,
		Throttle: server.NewThrottle(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	listen := cfg.ServerAddr
	if listenAddr != "" {
		listen = listenAddr
	}
	if listen == "" {
		listen = ":8080"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		go func() {
			err := relay.Watch(ctx, configPath, logger, func(c relay.Config) {
				applySettings(logger, dispatcher, c)
			})
			if err != nil {
				logger.Error().Err(err).Msg("config watch stopped")
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", listen).
			Str("broadcast_url", settings.BroadcastURL).
			Dur("timeout", settings.Timeout).
			Bool("require_fields", settings.RequireFields).
			Msg("starting web server")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Timeout+5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// applySettings only touches the dispatcher; gate and throttle changes need a restart.
func applySettings(logger zerolog.Logger, d *relay.Dispatcher, c relay.Config) {
	s, err := c.Settings()
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring reloaded config")
		return
	}
	if err := d.Apply(s); err != nil {
		logger.Warn().Err(err).Msg("ignoring reloaded config")
		return
	}
	logger.Info().Str("broadcast_url", s.BroadcastURL).Dur("timeout", s.Timeout).Msg("dispatcher settings applied")
}

func sendHandler(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	client := form.NewClient(endpoint, form.WithBasicAuth(user, password))
	c := form.NewController(client, form.NewTextView(out))
	c.UpdateTitle(title)
	c.UpdateBody(body)

	outcome, err := c.Submit(cmd.Context())
	if errors.Is(err, form.ErrCannotSubmit) {
		return errors.New("--title and --body are required")
	}
	if err != nil {
		return err
	}
	if !outcome.Success {
		if outcome.Error != "" {
			return fmt.Errorf("submission failed: %s", outcome.Error)
		}
		return errors.New("submission failed")
	}
	return nil
}
