package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/config"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/metrics"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/orchestrator"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/services"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/session"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

const sessionSweepInterval = time.Minute

// Pipeline is the set of generation and extraction collaborators the server
// wires into every workspace.
type Pipeline struct {
	Quiz      orchestrator.QuizGenerator
	Content   orchestrator.ContentGenerator
	LLM       LLM
	Extractor Extractor
}

// PipelineFromConfig uses the remote services when their URLs are set and
// falls back to in-process generation and extraction otherwise.
func PipelineFromConfig(cfg config.Config) Pipeline {
	llm := services.NewOpenAIService(cfg)
	p := Pipeline{
		Quiz:      llm,
		Content:   llm,
		LLM:       llm,
		Extractor: services.NewLocalExtractor(),
	}
	if cfg.QuizServiceURL != "" {
		p.Quiz = services.NewRemoteQuizService(cfg.QuizServiceURL, cfg.GenerationTimeout)
	}
	if cfg.ContentServiceURL != "" {
		p.Content = services.NewRemoteContentService(cfg.ContentServiceURL, cfg.GenerationTimeout)
	}
	if cfg.ExtractServiceURL != "" {
		p.Extractor = services.NewRemoteExtractor(cfg.ExtractServiceURL, cfg.GenerationTimeout)
	}
	return p
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *logger.Logger
	db       *gorm.DB
	sessions *session.Registry
	srv      *http.Server
}

func NewServer(cfg config.Config, log *logger.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	return newServer(cfg, log, PipelineFromConfig(cfg))
}

func newServer(cfg config.Config, log *logger.Logger, p Pipeline) (*Server, error) {
	fm, err := storage.NewFileManager(cfg.DataDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	db, err := storage.OpenUserDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init user database: %w", err)
	}

	m := metrics.New()
	auth := services.NewAuthService(storage.NewUserRepo(db), log, cfg.JWTSecret, cfg.TokenTTL)

	opts := orchestrator.Options{
		IllustrationDelay: cfg.IllustrationDelay,
		MediaRef:          cfg.IllustrationMediaRef,
		Timeout:           cfg.GenerationTimeout,
	}
	sessions := session.NewRegistry(auth, func(store *storage.Store) *orchestrator.Orchestrator {
		store.OnDelete(fm.RemoveHandout)
		return orchestrator.New(store, p.Quiz, p.Content, opts, log, m)
	}, log)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))
	engine.Use(m.Middleware())
	engine.Use(MaxBodySize(cfg.MaxUploadBytes + multipartOverhead))
	engine.Use(CORS(cfg.AllowedOrigins))

	api := NewAPI(cfg, log, fm, auth, sessions, p, services.NewPDFService(), services.NewShareService(cfg))
	registerRoutes(engine, api, m)

	return &Server{engine: engine, cfg: cfg, log: log, db: db, sessions: sessions}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sessions.Run(ctx, sessionSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close logs every session out and releases the user database.
func (s *Server) Close() error {
	s.sessions.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
