package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/zlnvch/codeverse/api/rest"
	"github.com/zlnvch/codeverse/api/ws"
	"github.com/zlnvch/codeverse/cache"
	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/mq"
	"github.com/zlnvch/codeverse/service"
	"github.com/zlnvch/codeverse/store"
	"github.com/zlnvch/codeverse/worker"
)

type CodeverseAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewCodeverseAPI(
	codeverseStore store.CodeverseStore,
	accountEventsQueue mq.MessageQueue,
	codeverseCache cache.CodeverseCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
	logger *zap.Logger,
	shutdownCtx context.Context,
) (*CodeverseAPI, error) {
	wsHub, err := ws.NewHub(codeverseCache, logger)
	if err != nil {
		return &CodeverseAPI{}, err
	}
	if err := wsHub.InitSubscriptions(shutdownCtx); err != nil {
		logger.Error("failed to start ws hub subscriptions", zap.Error(err))
		return &CodeverseAPI{}, err
	}

	docSaver := worker.NewDocSaver(codeverseStore, logger, 500)
	go docSaver.Run(shutdownCtx)

	accountEventsConsumer := worker.NewAccountEventsConsumer(accountEventsQueue, codeverseStore, codeverseCache, logger)
	go accountEventsConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		codeverseStore,
		codeverseCache,
		accountEventsQueue,
		docSaver,
		oauthConfigs,
		jwtSecret,
		accessTokenTTL,
		refreshTokenTTL,
		logger,
	)
	if err != nil {
		logger.Error("failed to create service", zap.Error(err))
		return &CodeverseAPI{}, err
	}

	registerProcedures(wsHub, svc)
	go wsHub.Run(shutdownCtx)

	restHandler := rest.NewHandler(svc, logger)
	wsHandler := ws.NewHandler(svc, wsHub, logger)

	return &CodeverseAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

type documentGetArgs struct {
	DocumentId string `json:"documentId"`
}

type documentGetResult struct {
	DocumentId string `json:"documentId"`
	Content    string `json:"content"`
}

// registerProcedures installs the RPC procedures before the hub starts.
func registerProcedures(wsHub *ws.Hub, svc *service.Service) {
	wsHub.RegisterRPC("code.document.get", func(ctx context.Context, caller models.User, args json.RawMessage) (any, error) {
		var getArgs documentGetArgs
		if err := json.Unmarshal(args, &getArgs); err != nil {
			return nil, service.ErrInvalid
		}

		content, err := svc.GetDocumentContent(ctx, caller, getArgs.DocumentId)
		if err != nil {
			return nil, err
		}

		return documentGetResult{DocumentId: getArgs.DocumentId, Content: content}, nil
	})
}

func (codeverseAPI *CodeverseAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /users", codeverseAPI.restHandler.HandleRegister)
	mux.HandleFunc("POST /login", codeverseAPI.restHandler.HandleLogin)
	mux.HandleFunc("POST /login/oauth", codeverseAPI.restHandler.HandleOauthLogin)
	mux.HandleFunc("POST /token/refresh", codeverseAPI.restHandler.HandleRefresh)
	mux.HandleFunc("POST /logout", codeverseAPI.restHandler.HandleLogout)
	mux.HandleFunc("POST /logout/all", codeverseAPI.restHandler.HandleLogoutAll)
	mux.HandleFunc("/me", codeverseAPI.restHandler.HandleMe)

	mux.HandleFunc("/documents", codeverseAPI.restHandler.HandleDocuments)
	mux.HandleFunc("/documents/{id}", codeverseAPI.restHandler.HandleDocument)
	mux.HandleFunc("POST /documents/{id}/share", codeverseAPI.restHandler.HandleShare)

	wsUpgrader := codeverseAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		codeverseAPI.wsHandler.ServeWS(wsUpgrader, w, r, codeverseAPI.shutdownCtx)
	})
}
