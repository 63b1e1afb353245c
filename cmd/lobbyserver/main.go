// cmd/lobbyserver is the process entrypoint: it wires every collaborator
// built under internal/ into the two websocket routes and serves them
// until interrupted, draining in-flight connections on shutdown.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/config"
	"github.com/stacks-wars/lobbyd/internal/external"
	"github.com/stacks-wars/lobbyd/internal/gameengine"
	"github.com/stacks-wars/lobbyd/internal/hub"
	"github.com/stacks-wars/lobbyd/internal/lobbylist"
	"github.com/stacks-wars/lobbyd/internal/middleware"
	"github.com/stacks-wars/lobbyd/internal/room"
	"github.com/stacks-wars/lobbyd/internal/store"
	"github.com/stacks-wars/lobbyd/internal/wsserver"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := store.NewClient(cfg.RedisAddr, cfg.RedisDB)
	if err := store.Ping(ctx, rdb); err != nil {
		logger.WithError(err).Fatal("failed to reach redis")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	publicKeyBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to read jwt public key")
	}
	publicKey := ed25519.PublicKey(publicKeyBytes)

	decoder := external.NewJWTCredentialDecoder(publicKey)
	revocation := external.NewRedisRevocationStore(rdb)
	identity := external.NewIdentityExtractor(decoder, revocation, cfg.AuthCookieName, logger)
	relational := external.NewPgRelationalStore(pool)

	lobbies := store.NewLobbyStateRepository(rdb)
	players := store.NewPlayerStateRepository(rdb)
	chats := store.NewChatRepository(rdb, cfg.ChatHistoryLimit)
	summaries := store.NewGameSummaryStore(rdb)

	h := hub.New(logger)
	games := gameengine.NewInstanceStore()

	lists := lobbylist.NewService(logger, h, relational, lobbies, cfg.LobbyListPageSize)
	rooms := room.NewManager(logger, h, cfg, lobbies, players, chats, summaries, games, relational, lists)

	ws := wsserver.New(logger, h, identity, rooms, lists, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/room/", ws.RoomHandler())
	mux.HandleFunc("/ws/lobbies", ws.LobbyListHandler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := middleware.LogMiddleware(logger)(mux)

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.WithError(err).Fatal("failed to listen")
	}

	logger.WithField("addr", fmt.Sprintf("%v", l.Addr())).Info("lobbyserver listening")

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.WithError(err).Error("server stopped serving")
	case sig := <-sigs:
		logger.WithField("signal", sig).Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}
}
