package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"rebanada-bot-backend/internal/catalog"
	"rebanada-bot-backend/internal/config"
	"rebanada-bot-backend/internal/db"
	"rebanada-bot-backend/internal/dispatcher"
	"rebanada-bot-backend/internal/intent"
	"rebanada-bot-backend/internal/store"
	"rebanada-bot-backend/internal/types"
)

const (
	sweepInterval      = time.Minute
	healthCheckTimeout = 2 * time.Second
)

type Server struct {
	router     *chi.Mux
	cfg        config.Config
	catalog    *catalog.Store
	dispatcher *dispatcher.Dispatcher
	log        *zap.Logger
	// optional background collaborators
	watcher  *catalog.Watcher
	memory   *store.MemoryStore
	database *db.DB
	orders   *store.OrderArchive
	closers  []io.Closer
}

// NewServer wires the catalog, responders and stores described by cfg.
// Optional backends (Redis, Postgres) that cannot be reached fall back to
// in-process behavior, except a configured database, which is required.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	src := catalog.NewFileSource(cfg.MenuPath)
	cat := catalog.NewStore(src, log)

	var closers []io.Closer
	opts := dispatcher.Options{Mode: cfg.Mode(), MaxTurns: cfg.ConversationMaxTurns, Log: log}

	if opts.Mode == config.ModeGrounded {
		oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oc.BaseURL = cfg.OpenAIBaseURL
		}
		grounded, err := intent.LoadGroundedResponder(cfg.PromptPath, openai.NewClientWithConfig(oc), intent.GroundedOptions{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.LLMTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load grounded responder: %w", err)
		}
		opts.Grounded = grounded
	}

	var memory *store.MemoryStore
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisConversationStore(cfg.RedisURL, cfg.ConversationTTL)
		if err == nil {
			err = rs.Ping(ctx)
		}
		if err != nil {
			log.Warn("redis unavailable, keeping conversations in memory", zap.Error(err))
		} else {
			opts.Conversations = rs
			closers = append(closers, rs)
		}
	}
	if opts.Conversations == nil {
		memory = store.NewMemoryStore(cfg.ConversationTTL)
		opts.Conversations = memory
	}

	if !cfg.KnownMode() {
		log.Warn("unknown BOT_MODE, using rules", zap.String("bot_mode", cfg.BotMode))
	}

	var database *db.DB
	var orders *store.OrderArchive
	if cfg.DatabaseURL != "" {
		var err error
		database, err = db.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("order archive enabled")
		orders = store.NewOrderArchive(database)
		opts.Archive = orders
		closers = append(closers, database)
	} else {
		log.Info("DB_URL not provided, finalized orders are not archived")
	}

	var watcher *catalog.Watcher
	if cfg.MenuWatch {
		w, err := catalog.NewWatcher(cat, src.Path(), log)
		if err != nil {
			log.Warn("menu watcher disabled", zap.Error(err))
		} else {
			watcher = w
		}
	}

	s := newServer(cfg, cat, dispatcher.New(cat, opts), log)
	s.watcher = watcher
	s.memory = memory
	s.database = database
	s.orders = orders
	s.closers = closers
	log.Info("responder mode selected", zap.String("mode", s.dispatcher.Mode()))
	return s, nil
}

func newServer(cfg config.Config, cat *catalog.Store, d *dispatcher.Dispatcher, log *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	s := &Server{
		router:     r,
		cfg:        cfg,
		catalog:    cat,
		dispatcher: d,
		log:        log.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/menu", s.handleMenu)
	s.router.Post("/bot", s.handleBot)
	s.router.Post("/admin/reload-menu", s.handleReloadMenu)
	s.router.Get("/admin/conversations/{senderId}", s.handleConversation)
	s.router.Get("/admin/orders/{senderId}", s.handleOrders)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Router() http.Handler { return s.router }

// Start launches background work (menu watcher, conversation sweeping) until
// ctx is done.
func (s *Server) Start(ctx context.Context) {
	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil {
				s.log.Warn("menu watcher stopped", zap.Error(err))
			}
		}()
	}
	if s.memory != nil {
		go func() {
			t := time.NewTicker(sweepInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if n := s.memory.Sweep(); n > 0 {
						s.log.Debug("expired conversations removed", zap.Int("count", n))
					}
				}
			}
		}()
	}
}

func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{OK: true, Mode: s.dispatcher.Mode()}
	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.log.Warn("order archive health check failed", zap.Error(err))
			resp.OK = false
			resp.Database = "unreachable"
			s.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.Current())
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	var req types.BotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	from := strings.TrimSpace(req.From)
	if from == "" {
		from = "anon"
	}
	s.log.Info("inbound message",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("from", from),
		zap.String("channel", req.Channel),
		zap.String("body", req.Body))

	out := s.dispatcher.Handle(r.Context(), dispatcher.IncomingMessage{
		Text:     req.Body,
		SenderID: from,
		Channel:  req.Channel,
	})
	s.writeJSON(w, http.StatusOK, types.BotResponse{Reply: out.Reply, Done: out.Done, Order: out.Order})
}

func (s *Server) handleReloadMenu(w http.ResponseWriter, r *http.Request) {
	out := s.catalog.Reload()
	s.log.Info("menu reload requested", zap.Bool("ok", out.OK))
	s.writeJSON(w, http.StatusOK, types.ReloadResponse{
		OK:        out.OK,
		Message:   out.Message,
		Pizzas:    out.Pizzas,
		Promos:    out.Promos,
		Beverages: out.Beverages,
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "senderId")
	conv, err := s.dispatcher.Conversation(r.Context(), sender)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.log.Warn("conversation lookup failed", zap.String("sender", sender), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "conversation store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		s.writeError(w, http.StatusNotFound, "order archive disabled")
		return
	}
	sender := chi.URLParam(r, "senderId")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	orders, err := s.orders.ListBySender(r.Context(), sender, limit)
	if err != nil {
		s.log.Warn("order lookup failed", zap.String("sender", sender), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "order archive unavailable")
		return
	}
	if orders == nil {
		orders = []store.ArchivedOrder{}
	}
	s.writeJSON(w, http.StatusOK, types.OrdersResponse{SenderID: sender, Orders: orders})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
