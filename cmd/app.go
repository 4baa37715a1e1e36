package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
	"github.com/qrave1/LiveClass/internal/infra/adapters/postgres"
	"github.com/qrave1/LiveClass/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/LiveClass/internal/infra/adapters/rest"
	"github.com/qrave1/LiveClass/internal/infra/adapters/rtc"
	"github.com/qrave1/LiveClass/internal/infra/adapters/ws"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/handlers"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/server"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// transcriptStore - журнал чата, который пишет координатор и читает UI
type transcriptStore interface {
	Save(ctx context.Context, sessionID string, msg models.ChatMessage) error
	List(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

func runApp(sessionOverride string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	if cfg.AuthToken == "" {
		slog.Error("AUTH_TOKEN is required")
		os.Exit(1)
	}

	var transcripts transcriptStore = memory.NewTranscriptRepository()

	if cfg.Transcript.Enabled {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		transcripts = repository.NewTranscriptRepo(dbConn)
	}

	sessionUsecase := usecase.NewSessionUsecase(
		usecase.SessionConfig{
			Token:        cfg.AuthToken,
			JoinTimeout:  cfg.JoinTimeout,
			SignalingURL: cfg.Signaling.URL,
			Signaling: usecase.SignalingConfig{
				MaxAttempts: cfg.Signaling.MaxAttempts,
				BackoffBase: cfg.Signaling.BackoffBase,
				BackoffCap:  cfg.Signaling.BackoffCap,
			},
			ChatDedupWindow: cfg.Chat.DedupWindow,
			ChatRate:        cfg.Chat.Rate,
			ChatBurst:       cfg.Chat.Burst,
			RenewLead:       cfg.Media.RenewLead,
		},
		rest.NewJoinClient(cfg.APIURL, &http.Client{}),
		ws.NewDialer(cfg.Signaling.PingInterval),
		rtc.NewTransportFactory(rtc.Config{
			SFUURL:            cfg.Media.SFUURL,
			ICEServers:        cfg.ICEServers,
			Microphones:       cfg.Media.MicDevices,
			Cameras:           cfg.Media.CameraDevices,
			AttachMaxAttempts: cfg.Media.AttachMaxAttempts,
		}),
		transcripts,
	)

	viewers := memory.NewViewerRepository()

	sessionHandler := handlers.NewSessionHandler(sessionUsecase, transcripts)
	wsHandler := handlers.NewWebSocketHandler(cfg, sessionUsecase, viewers)

	echoSrv := server.New(sessionHandler, wsHandler)
	metricsSrv := metric.NewServer(func() string {
		return string(sessionUsecase.View().Banner)
	})

	g, gctx := errgroup.WithContext(ctx)

	// Запускаем HTTP сервер UI
	g.Go(func() error {
		return serve(echoSrv, ":"+cfg.UIPort)
	})

	// Запускаем сервер метрик
	g.Go(func() error {
		return serve(metricsSrv, ":"+cfg.MetricPort)
	})

	g.Go(func() error {
		return wsHandler.Run(gctx)
	})

	g.Go(func() error {
		attachRemoteVideo(gctx, sessionUsecase, cfg.Media.RecordDir)
		return nil
	})

	if id := firstNonEmpty(sessionOverride, cfg.SessionID); id != "" {
		g.Go(func() error {
			joinOnStart(gctx, sessionUsecase, id)
			return nil
		})
	}

	// Ожидаем сигнал завершения или ошибку сервера, затем выходим из сессии
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()

		if err := sessionUsecase.Leave(timeoutCtx); err != nil {
			slog.Error("Failed to leave session", slog.Any(constant.Error, err))
		}

		if err := echoSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
		}

		if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("LiveClass stopped with error", slog.Any(constant.Error, err))
		os.Exit(1)
	}
}

func serve(e *echo.Echo, addr string) error {
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func joinOnStart(ctx context.Context, session usecase.SessionUsecase, sessionID string) {
	log := slog.With(slog.String(constant.SessionID, sessionID))

	if _, err := session.Join(ctx, sessionID); err != nil {
		// UI остаётся поднятым: ошибка видна в состоянии, повтор через /api/v1/session/join
		log.Error(
			"join session",
			slog.Any(constant.Error, err),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.Bool("fatal", domain.IsFatal(err)),
		)
		return
	}

	log.Info("joined session")
}

// attachRemoteVideo пишет видео преподавателя в RECORD_DIR, как только оно готово
func attachRemoteVideo(ctx context.Context, session usecase.SessionUsecase, dir string) {
	for {
		select {
		case <-ctx.Done():
			return
		case uid := <-session.AttachRequests():
			target, err := rtc.NewRenderTarget(dir, uid, usecase.KindVideo)
			if err != nil {
				slog.Error("create render target", slog.Any(constant.Error, err), slog.String(constant.RemoteUID, uid))
				continue
			}

			if err = session.AttachRemoteVideo(ctx, uid, target); err != nil {
				slog.Warn("attach remote video", slog.Any(constant.Error, err), slog.String(constant.RemoteUID, uid))
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
