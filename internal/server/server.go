// Package server exposes the survey pipeline over WebSocket. Clients send
// JSON request envelopes on /ws and receive result, error and progress
// envelopes tagged with the request id.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/sitesurvey/internal/analysis"
	"github.com/PentesterFlow/sitesurvey/internal/corpus"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/output"
	"github.com/PentesterFlow/sitesurvey/internal/qa"
	"github.com/PentesterFlow/sitesurvey/internal/store"
	"github.com/PentesterFlow/sitesurvey/pkg/survey"
)

// Backend runs the pipeline. *survey.Survey implements it.
type Backend interface {
	Crawl(ctx context.Context, target string, opts survey.CrawlOptions) (*corpus.CrawlResult, error)
	Analyze(ctx context.Context, corpusText string, urls []string, batchSize int) (*analysis.Document, error)
	Ask(ctx context.Context, question, corpusText string) (string, error)
	SuggestQuestions(ctx context.Context, corpusText string) ([]qa.Question, error)
}

// Config configures the server.
type Config struct {
	Addr string
	// AllowedOrigins lists accepted Origin hosts. Empty accepts any.
	AllowedOrigins []string
	// MaxInFlight bounds concurrent requests per connection.
	MaxInFlight  int
	ReadLimit    int64
	WriteTimeout time.Duration
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		MaxInFlight:  4,
		ReadLimit:    16 << 20,
		WriteTimeout: 10 * time.Second,
	}
}

// Server handles WebSocket clients.
type Server struct {
	cfg      Config
	backend  Backend
	store    store.Store
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	httpSrv *http.Server
	conns   map[*conn]struct{}
	closed  bool
}

// New creates a server. st may be nil, which disables save and the
// report requests. log may be nil.
func New(cfg Config, backend Backend, st store.Store, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{
		cfg:     cfg,
		backend: backend,
		store:   st,
		log:     logger.OrNop(log).WithComponent("server"),
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes: /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	return mux
}

// ListenAndServe serves on cfg.Addr until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Infof("Listening on %s", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting clients, cancels in-flight requests and closes
// every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	// Hijacked connections are not tracked by http.Server.
	for _, c := range conns {
		c.close()
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// conn is one client connection.
type conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	cancel       context.CancelFunc
	once         sync.Once
	log          *logger.Logger
}

func (c *conn) send(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// reply sends resp, logging write failures. The client may already be gone.
func (c *conn) reply(resp Response) {
	if err := c.send(resp); err != nil {
		c.log.WithError(err).WithField("type", resp.Type).Debug("Write failed")
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		c.cancel()
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("Upgrade failed")
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	log := s.log.WithField("remote", r.RemoteAddr)
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, writeTimeout: s.cfg.WriteTimeout, cancel: cancel, log: log}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	log.Debug("Client connected")

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		c.close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		log.Debug("Client disconnected")
	}()

	slots := make(chan struct{}, s.cfg.MaxInFlight)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(errorResponse("", errors.NewInputError("decode", "invalid request: "+err.Error())))
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			s.handle(ctx, c, req)
		}()
	}
}

func (s *Server) handle(ctx context.Context, c *conn, req Request) {
	start := time.Now()
	payload, err := s.dispatch(ctx, c, req)
	if err != nil {
		s.log.WithError(err).WithField("type", req.Type).WithDuration(time.Since(start)).Warn("Request failed")
		c.reply(errorResponse(req.ID, err))
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.reply(errorResponse(req.ID, err))
		return
	}
	s.log.WithField("type", req.Type).WithDuration(time.Since(start)).Debug("Request finished")
	c.reply(Response{ID: req.ID, Type: TypeResult, Payload: data})
}

func (s *Server) dispatch(ctx context.Context, c *conn, req Request) (interface{}, error) {
	switch req.Type {
	case TypeCrawl:
		res, err := s.backend.Crawl(ctx, req.URL, survey.CrawlOptions{
			MaxPages:    req.MaxPages,
			Concurrency: req.Concurrency,
			RenderJS:    req.RenderJS,
			Sitemap:     req.Sitemap,
			OnProgress: func(p fetcher.Progress) {
				data, _ := json.Marshal(ProgressPayload{
					URL: p.URL, Done: p.Done, Total: p.Total, OK: p.OK, Strategy: string(p.Strategy),
				})
				c.reply(Response{ID: req.ID, Type: TypeProgress, Payload: data})
			},
		})
		if err != nil {
			return nil, err
		}
		return output.CrawlOutput{Target: req.URL, Corpus: res.Corpus, URLs: res.URLs}, nil

	case TypeAnalyze:
		doc, err := s.backend.Analyze(ctx, req.Corpus, req.URLs, req.BatchSize)
		if err != nil {
			return nil, err
		}
		out := output.AnalysisOutput{Target: req.URL, URLs: req.URLs, Document: doc}
		if req.Save {
			if s.store == nil {
				return nil, errors.NewInputError("save", "report store is disabled")
			}
			report := &store.Report{
				SiteURL:  req.URL,
				Crawl:    corpus.CrawlResult{Corpus: req.Corpus, URLs: req.URLs},
				Document: doc,
			}
			if err := s.store.Save(report); err != nil {
				return nil, err
			}
			out.ReportID = report.ID
		}
		return out, nil

	case TypeAsk:
		answer, err := s.backend.Ask(ctx, req.Question, req.Corpus)
		if err != nil {
			return nil, err
		}
		return output.AnswerOutput{Question: req.Question, Answer: answer}, nil

	case TypeQuestions:
		qs, err := s.backend.SuggestQuestions(ctx, req.Corpus)
		if err != nil {
			return nil, err
		}
		return output.QuestionsOutput{Questions: qs}, nil

	case TypeReports:
		if s.store == nil {
			return nil, errors.NewInputError("reports", "report store is disabled")
		}
		return s.store.List()

	case TypeReport:
		if s.store == nil {
			return nil, errors.NewInputError("report", "report store is disabled")
		}
		return s.store.Get(req.ReportID)

	default:
		return nil, errors.NewInputError("dispatch", "unknown request type "+req.Type)
	}
}

func errorResponse(id string, err error) Response {
	kind := errors.GetErrorType(err).String()
	if stderrors.Is(err, store.ErrNotFound) {
		kind = errors.NotFound.String()
	}
	return Response{ID: id, Type: TypeError, Error: &ErrorBody{Type: kind, Message: err.Error()}}
}
