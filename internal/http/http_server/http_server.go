package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/http/chathandler"
	"dmchat/internal/services/chat"
	"dmchat/internal/ws"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abrar71/swaggerfilesv2" // swagger embed files
)

const disposeTimeout = 10 * time.Second

type httpServer struct {
	listenPort  uint16
	srv         http.Server
	ln          net.Listener
	chatService chat.IChatService
	wsSrv       *ws.WsServer
	verifier    auth.Verifier
	metrics     http.Handler
	ctx         context.Context
}

func NewHttpServer(
	ctx context.Context,
	listenPort uint16,
	wsSrv *ws.WsServer,
	chatService chat.IChatService,
	verifier auth.Verifier,
	metrics http.Handler,
) *httpServer {
	return &httpServer{
		listenPort:  listenPort,
		wsSrv:       wsSrv,
		chatService: chatService,
		verifier:    verifier,
		metrics:     metrics,
		ctx:         ctx,
	}
}

// Routes builds the gin engine; split from Start so tests can mount it on
// httptest.
func (h *httpServer) Routes() *gin.Engine {
	routerEngine := gin.New()

	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))
	routerEngine.Static("/api-specs", "api_specs")

	routerEngine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.metrics != nil {
		routerEngine.GET("/metrics", gin.WrapH(h.metrics))
	}

	requireAuth := auth.Required(h.verifier)

	// websocket endpoints
	routerEngine.GET("/ws/rooms/:room", h.wsSrv.HandleRoom)
	routerEngine.GET("/ws/chat", requireAuth, h.wsSrv.HandleChat)

	// REST API
	api := routerEngine.Group("/", requireAuth)
	ch := chathandler.New(h.chatService, h.wsSrv, h.wsSrv.Registry())
	ch.Register(api)

	return routerEngine
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	zap.L().Info("http.listen", zap.String("addr", listenAddr))

	h.srv = http.Server{
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	err = h.srv.Serve(h.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Dispose evicts live websocket sessions, then waits up to 10 s for in-flight
// requests to finish.
func (h *httpServer) Dispose() error {
	n := h.wsSrv.Shutdown()
	zap.L().Info("http_dispose", zap.Int("ws_evicted", n))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), disposeTimeout)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}
