package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/zlnvch/codeverse/api"
	"github.com/zlnvch/codeverse/cache/redis"
	"github.com/zlnvch/codeverse/config"
	"github.com/zlnvch/codeverse/mq/sqsmq"
	"github.com/zlnvch/codeverse/store/dynamo"
)

func main() {
	cfg := config.MustLoad("")

	var logger *zap.Logger
	var err error
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	codeverseStore, err := dynamo.NewDynamoCodeverseStore(ctx, cfg.AWS.DevMode, cfg.AWS.DynamoDBEndpoint, cfg.AWS.Table)
	if err != nil {
		logger.Fatal("failed to create dynamodb store", zap.Error(err))
	}

	accountEventsQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.AWS.DevMode, cfg.AWS.SQSEndpoint, cfg.AWS.AccountQueue, logger)
	if err != nil {
		logger.Fatal("failed to create SQS MQ", zap.Error(err))
	}

	codeverseCache, err := redis.NewRedisCodeverseCache(ctx, cfg.AWS.DevMode, cfg.Redis.Endpoint, logger)
	if err != nil {
		logger.Fatal("failed to create redis cache", zap.Error(err))
	}

	oauthConfigs := map[string]*oauth2.Config{}
	if cfg.OAuth.GithubClientID != "" {
		oauthConfigs["github"] = &oauth2.Config{
			ClientID:     cfg.OAuth.GithubClientID,
			ClientSecret: cfg.OAuth.GithubClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		}
	}
	if cfg.OAuth.GoogleClientID != "" {
		oauthConfigs["google"] = &oauth2.Config{
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		}
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("failed to decode base64 jwt secret", zap.Error(err))
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	codeverseApi, err := api.NewCodeverseAPI(
		codeverseStore,
		accountEventsQueue,
		codeverseCache,
		oauthConfigs,
		jwtSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		logger,
		shutdownCtx,
	)
	if err != nil {
		logger.Fatal("failed to create codeverse api", zap.Error(err))
	}

	mux := http.NewServeMux()
	codeverseApi.RegisterRoutes(mux, os.Getenv("ALLOWED_ORIGIN"))

	server := &http.Server{Addr: cfg.HTTP.Addr(), Handler: mux}

	go func() {
		<-shutdownCtx.Done()
		logger.Info("server shutting down")
		server.Shutdown(context.Background())
	}()

	logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr()))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
