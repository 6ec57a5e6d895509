package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pliu/inbox/internal/auth"
	"github.com/pliu/inbox/internal/cache"
	"github.com/pliu/inbox/internal/config"
	"github.com/pliu/inbox/internal/email"
	"github.com/pliu/inbox/internal/messaging"
	"github.com/pliu/inbox/internal/notify"
	"github.com/pliu/inbox/internal/server"
	"github.com/pliu/inbox/internal/store"
	"github.com/pliu/inbox/internal/store/mongostore"
	"github.com/pliu/inbox/internal/store/sqlstore"
	"github.com/pliu/inbox/internal/ws"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	service := &messaging.Service{Store: st, PageSize: cfg.PageSize}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis %s: %v", cfg.RedisAddr, err)
		}
		service.Cache = cache.NewRedisInbox(rdb, cfg.InboxCacheTTL)
		log.Println("Inbox cache enabled at", cfg.RedisAddr)
	}

	// Initialize WebSocket Hub
	hub := ws.NewHub()
	go hub.Run(ctx)
	service.Publisher = hub

	if cfg.NotifyInterval > 0 {
		notifier := &notify.UnreadNotifier{
			Store:   st,
			Mailer:  email.NewSender(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort), cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom),
			Delay:   cfg.NotifyDelay,
			BaseURL: cfg.BaseURL,
		}
		go notifier.Run(ctx, cfg.NotifyInterval)
	}

	router := server.NewRouter(server.Deps{
		Store:    st,
		Service:  service,
		Sessions: auth.NewSessions([]byte(cfg.SessionSecret), cfg.SecureCookies),
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Println("Starting server on", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreType == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := mongostore.New(connectCtx, cfg.DSN, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := sqlstore.New(cfg.StoreType, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return s, nil
}
