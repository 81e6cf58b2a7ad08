package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dmchat/internal/auth"
	"dmchat/internal/config"
	"dmchat/internal/database/db_client"
	"dmchat/internal/http/http_server"
	"dmchat/internal/metrics"
	"dmchat/internal/redis/redis_client"
	"dmchat/internal/services/chat"
	"dmchat/internal/syncmsg"
	"dmchat/internal/ws"

	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

//	@title						dmchat API
//	@version					1.0
//	@description				Direct messages between two users, live over websocket and persisted.
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Uint16("port", cfg.HttpServerPort), zap.Int("max_room_size", cfg.MaxRoomSize))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis: room cache + message stream
	redisClient, err := redis_client.NewRedisClient(ctx, cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := db_client.Migrate(ctx, pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	}

	// 5. Services
	chatService := chat.NewChatService(redisClient, pgDb)

	// 6. Background: message stream ➜ Postgres
	syncmsg.Run(ctx, redisClient, pgDb)

	// 7. Connection registry, observed by the metrics collector
	m := metrics.New()
	registry := ws.NewRegistry(ws.MaxMembers(cfg.MaxRoomSize), m)

	// 8. WS server
	wsSrv := ws.NewWsServer(registry, chatService, ws.Options{
		ReadLimit:      cfg.WsReadLimit,
		SendBuffer:     cfg.WsSendBuffer,
		PingPeriod:     cfg.WsPingPeriod,
		WriteWait:      cfg.WsWriteWait,
		OriginPatterns: cfg.WsAllowedOrigins,
	})

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, chatService, auth.New(cfg.JWTSecret), m.Handler())
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
		Log.Info("shutting down")
		_ = httpServer.Dispose()
	}
}
