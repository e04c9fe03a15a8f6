package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoclick_go/internal/app"
	"autoclick_go/internal/bot"
	"autoclick_go/internal/onboarding"
	"autoclick_go/internal/supervisor"
	"autoclick_go/logger"
	"autoclick_go/pkg/telegram/client"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить бота, HTTP API и фоновые задачи",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBot(); err != nil {
		return err
	}
	log := logger.For("serve")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	provider := &client.GotdProvider{
		Proxy:          &cfg.Provider.Proxy,
		Storage:        store.Sessions,
		ConnectTimeout: time.Duration(cfg.Provider.ConnectTimeoutSeconds) * time.Second,
	}
	sup := supervisor.New(ctx)
	application := app.New(store.Registry, provider, sup, app.SettingsFromConfig(cfg.Automation), cfg.Automation.ResumeParallelism)

	api, err := bot.NewAPI(cfg.Telegram)
	if err != nil {
		return err
	}
	controller := onboarding.NewController(provider, bot.Replier{API: api}, application.OnAuthorized)
	gateway := bot.New(ctx, api, controller, sup, cfg.Telegram.AdminID)
	go controller.RunSweeper(ctx, time.Minute)

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           setupRouter(cfg.HTTP.Token, store.Registry, application, sup),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("[HTTP] сервер слушает %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[HTTP] сервер остановлен с ошибкой: %v", err)
			stop()
		}
	}()

	go func() {
		n, err := application.Resume(ctx)
		if err != nil {
			log.Errorf("[RESUME] %v", err)
			return
		}
		log.Infof("[RESUME] запущено задач: %d", n)
	}()

	gateway.Run(ctx)

	log.Infof("[SHUTDOWN] останавливаем сервис")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("[SHUTDOWN] HTTP: %v", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Warnf("[SHUTDOWN] задачи: %v", err)
	}
	if left := application.Sessions(); len(left) > 0 {
		log.Warnf("[SHUTDOWN] не закрыты сессии: %v", left)
	}
	return nil
}
