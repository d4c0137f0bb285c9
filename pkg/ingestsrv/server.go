package ingestsrv

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/sinyalist/ingestd/db/sinkdb"
	"github.com/sinyalist/ingestd/pkg/cloudflare"
	"github.com/sinyalist/ingestd/pkg/geoipx"
	"github.com/sinyalist/ingestd/pkg/memindex"
	"github.com/sinyalist/ingestd/pkg/sink"
	"github.com/sinyalist/ingestd/pkg/wire"
)

const (
	persistQueueCap = 100_000
	relayQueueCap   = 10_000
)

// Server wires the admission pipeline, its background workers, and the HTTP
// surface together, per §4.K.
type Server struct {
	Logger zerolog.Logger

	Addr         string
	Handler      http.Handler
	NotifySocket string

	Pipeline *Pipeline
	Metrics  *Metrics

	sink      sink.Sink
	persistCh chan *wire.Packet
	relayCh   chan *wire.Packet

	reload []func()
	closed bool
}

// NewServer configures a new server from c, which is assumed to already hold
// default or validated values (as produced by Config.UnmarshalEnv).
func NewServer(c *Config) (*Server, error) {
	var s Server
	var success bool

	if l, reopen, err := configureLogging(c); err == nil {
		s.Logger = l
		if reopen != nil {
			s.reload = append(s.reload, reopen)
		}
	} else {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	s.NotifySocket = c.NotifySocket

	sk, err := configureSink(c)
	if err != nil {
		return nil, fmt.Errorf("initialize persistence sink: %w", err)
	}
	s.sink = sk
	defer func() {
		if !success {
			sk.Close()
		}
	}()

	var geoIP *geoipx.Checker
	if c.IP2LocationDB != "" {
		geoIP = new(geoipx.Checker)
		if err := geoIP.Load(c.IP2LocationDB); err != nil {
			return nil, fmt.Errorf("initialize ip2location: %w", err)
		}
		s.reload = append(s.reload, func() {
			if err := geoIP.Load(""); err != nil {
				s.Logger.Err(err).Msg("failed to reload ip2location database")
			}
		})
	}

	dedup := memindex.NewDedup()
	keyLimit := memindex.NewRateLimiter()
	cellLimit := memindex.NewRateLimiter()
	cluster := memindex.NewCluster()
	keys := memindex.NewKnownKeys(c.KnownKeysCap)

	s.Metrics = NewMetrics(dedup, keys, cluster)

	s.persistCh = make(chan *wire.Packet, persistQueueCap)
	s.relayCh = make(chan *wire.Packet, relayQueueCap)

	s.Pipeline = &Pipeline{
		Logger:    s.Logger.With().Str("component", "pipeline").Logger(),
		Metrics:   s.Metrics,
		Dedup:     dedup,
		KeyLimit:  keyLimit,
		CellLimit: cellLimit,
		Cluster:   cluster,
		Keys:      keys,
		GeoIP:     geoIP,
		PersistCh: s.persistCh,
		RelayCh:   s.relayCh,
	}

	var m middlewares
	m.Add(hlog.RequestIDHandler("", "X-Request-Id"))

	if len(c.Host) != 0 {
		ns := map[string]struct{}{}
		for _, n := range c.Host {
			ns[strings.ToLower(n)] = struct{}{}
		}
		m.Add(func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := ns[strings.ToLower(hostWithoutPort(r.Host))]; ok {
					h.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Cache-Control", "private, no-cache, no-store")
				http.Error(w, "Go away.", http.StatusForbidden)
			})
		})
	}

	if c.Cloudflare {
		if err := cloudflare.UpdateIPs(context.Background()); err != nil {
			return nil, fmt.Errorf("initialize cloudflare ip list: %w", err)
		}
		m.Add(cloudflare.RealIP(func(r *http.Request, err error) {
			e := s.Logger.Warn()
			if rid, ok := hlog.IDFromRequest(r); ok {
				e = e.Stringer("rid", rid)
			}
			e.Err(err).
				Str("component", "http").
				Str("request_ip", r.RemoteAddr).
				Msg("use cloudflare ip")
		}))
	}

	m.Add(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		var e *zerolog.Event
		if r.URL.Path == "/health" || r.URL.Path == "/ready" {
			e = s.Logger.Debug()
		} else {
			e = s.Logger.Info()
		}
		if rid, ok := hlog.IDFromRequest(r); ok {
			e = e.Stringer("rid", rid)
		}
		e.Str("request_ip", r.RemoteAddr).
			Str("request_method", r.Method).
			Stringer("request_uri", r.URL).
			Int("response_status", status).
			Int("response_size", size).
			Dur("response_duration", duration).
			Msg("handle request")
	}))

	m.Add(hlog.NewHandler(s.Logger.With().Str("component", "ingest").Logger()))
	m.Add(hlog.RequestIDHandler("rid", ""))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	s.Handler = m.Then(mux)
	s.Addr = fmt.Sprintf("0.0.0.0:%d", c.Port)

	success = true
	return &s, nil
}

func configureSink(c *Config) (sink.Sink, error) {
	typ, arg, _ := strings.Cut(c.PersistSink, ":")
	switch typ {
	case "ndjson":
		if arg == "" {
			return nil, fmt.Errorf("ndjson: missing path")
		}
		return sink.OpenFile(arg, c.PersistRotateBytes)
	case "sqlite3":
		if arg == "" {
			return nil, fmt.Errorf("sqlite3: missing path")
		}
		return sinkdb.Open(arg)
	default:
		return nil, fmt.Errorf("unknown sink type %q", typ)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, wire.MaxPacketSize+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var remoteIP netip.Addr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		remoteIP = ap.Addr()
	}

	ack, aerr := s.Pipeline.Admit(remoteIP, body, time.Now().UnixMilli())
	if aerr != nil {
		ae, _ := aerr.(*admissionError)
		status := http.StatusInternalServerError
		if ae != nil {
			status = ae.status
		}
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		w.WriteHeader(status)
		return
	}

	b := ack.Encode()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if cap(s.persistCh)-len(s.persistCh) > 0 {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	geo := r.URL.Query().Get("geo") == "1"
	w.Header().Set("Cache-Control", "private, no-cache, no-store")
	w.Header().Set("Content-Type", "application/json")
	if err := s.Metrics.WriteJSON(w, geo); err != nil {
		s.Logger.Err(err).Msg("failed to write metrics response")
	}
}

// Run starts the HTTP listener and background workers, shutting down
// gracefully when ctx is canceled. It must only be called once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return http.ErrServerClosed
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); s.runPersistWorker(workerCtx, s.persistCh, s.sink) }()
	go func() { defer workers.Done(); s.runRelayWorker(workerCtx, s.relayCh) }()
	go func() { defer workers.Done(); s.runEvictionLoop(workerCtx) }()

	hs := &http.Server{Addr: s.Addr, Handler: s.Handler}

	s.Logger.Log().Msgf("starting server on http://%s", s.Addr)

	errch := make(chan error, 1)
	go func() {
		errch <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second * 2):
		go s.sdnotify("READY=1")
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}

	select {
	case <-ctx.Done():
		s.closed = true
		s.Pipeline.Close()
		s.Logger.Log().Msg("shutting down")

		go s.sdnotify("STOPPING=1")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)

		cancelWorkers()
		workers.Wait()

		if err := s.sink.Close(); err != nil {
			s.Logger.Err(err).Msg("failed to close persistence sink")
		}
		return nil
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}
}

// HandleSIGHUP reopens the log file and reloads the IP2Location database, if
// configured.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}

	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")

	for _, fn := range s.reload {
		if fn != nil {
			fn()
		}
	}
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.NotifySocket == "" {
		return false, nil
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: s.NotifySocket, Net: "unixgram"})
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
