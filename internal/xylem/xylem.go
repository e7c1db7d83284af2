// Package xylem is the miner-side compute server. Services attach a typed
// message prototype plus callbacks; incoming requests run through verify,
// blacklist, and priority before being dispatched on a shared worker pool.
package xylem

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"hetu/internal/priority"
	"hetu/internal/synapse"
	"hetu/internal/utils"
)

const (
	DefaultDispatchTimeout = 12 * time.Second
	DefaultMaxWorkers      = 10
)

// ForwardFn handles a verified, admitted request and returns the response
// message. Returning the input message mutated in place is fine.
type ForwardFn func(ctx context.Context, msg synapse.Message) (synapse.Message, error)

// BlacklistFn returns true to reject the sender with 403.
type BlacklistFn func(msg synapse.Message) bool

// PriorityFn scores a request for the dispatch queue. Lower values run
// first. Errors are soft: the request falls back to priority 0.
type PriorityFn func(msg synapse.Message) (float64, error)

// VerifyFn authenticates a request. A non-nil error rejects it with 401.
type VerifyFn func(msg synapse.Message) error

// Service binds a message prototype to its callbacks. Only Proto and
// Forward are required.
type Service struct {
	Proto     synapse.Message
	Forward   ForwardFn
	Blacklist BlacklistFn
	Priority  PriorityFn
	Verify    VerifyFn
}

type Config struct {
	IP           string
	Port         int
	ExternalIP   string
	ExternalPort int
	MaxWorkers   int
}

// Info reports the server's addressing and attached services.
type Info struct {
	IP           string   `json:"ip"`
	Port         int      `json:"port"`
	ExternalIP   string   `json:"external_ip,omitempty"`
	ExternalPort int      `json:"external_port,omitempty"`
	Started      bool     `json:"started"`
	Services     []string `json:"services"`
}

type Xylem struct {
	cfg  Config
	log  *zap.SugaredLogger
	e    *echo.Echo
	pool *priority.Pool

	mu       sync.Mutex
	services map[string]*Service
	started  bool
	ln       net.Listener
}

func New(cfg Config, log *zap.SugaredLogger) *Xylem {
	if cfg.IP == "" {
		cfg.IP = "127.0.0.1"
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	x := &Xylem{
		cfg:      cfg,
		log:      log,
		e:        e,
		pool:     priority.NewPool(cfg.MaxWorkers),
		services: map[string]*Service{},
	}
	ping := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"completion": "pong",
			"status":     "ok",
		})
	}
	e.GET("/ping", ping)
	e.POST("/ping", ping)
	return x
}

// Attach registers a service under its prototype's declared name. A second
// registration for the same name replaces the first.
func (x *Xylem) Attach(svc *Service) *Xylem {
	name := svc.Proto.ServiceName()
	x.mu.Lock()
	_, replaced := x.services[name]
	x.services[name] = svc
	x.mu.Unlock()
	if replaced {
		x.log.Warnf("Service [%s] re-attached, previous handler replaced", name)
		return x
	}
	x.e.POST("/"+name, func(c echo.Context) error {
		x.mu.Lock()
		s := x.services[name]
		x.mu.Unlock()
		return x.handle(c, s)
	})
	return x
}

func (x *Xylem) handle(c echo.Context, svc *Service) error {
	start := time.Now()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	msg := svc.Proto.Empty()
	if err := synapse.Unmarshal(body, msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("failed to parse request: %s", err),
		})
	}

	if svc.Verify != nil {
		if err := svc.Verify(msg); err != nil {
			return x.fail(c, start, msg, http.StatusUnauthorized, fmt.Sprintf("verification failed: %s", err))
		}
	}
	if svc.Blacklist != nil && svc.Blacklist(msg) {
		return x.fail(c, start, msg, http.StatusForbidden, "request blacklisted")
	}

	prio := 0.0
	if svc.Priority != nil {
		p, err := svc.Priority(msg)
		if err != nil {
			x.log.Warnw("Priority callback failed, using 0",
				"service", msg.ServiceName(),
				"error", err,
			)
		} else {
			prio = p
		}
	}

	future := x.pool.Submit(func() (any, error) {
		return svc.Forward(c.Request().Context(), msg)
	}, prio)

	timeout := DefaultDispatchTimeout
	if t := msg.Base().Timeout; t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}
	result, err := future.Result(timeout)
	if err == priority.ErrTimeout {
		// The handler may still be running and mutating msg, so build
		// the timeout response from a fresh instance.
		out := msg.Empty()
		out.Base().RequestID = msg.Base().RequestID
		return x.fail(c, start, out, http.StatusInternalServerError, "handler timed out")
	}
	if err != nil {
		return x.fail(c, start, msg, http.StatusInternalServerError, err.Error())
	}

	out, _ := result.(synapse.Message)
	if out == nil {
		out = msg
	}
	out.Base().ProcessTime = time.Since(start).Seconds()
	if out.Base().StatusCode == 0 {
		out.Base().StatusCode = http.StatusOK
	}
	return x.reply(c, out)
}

// fail annotates msg with the error and process time and sends it back as
// the response body with the matching HTTP status.
func (x *Xylem) fail(c echo.Context, start time.Time, msg synapse.Message, code int, text string) error {
	msg.Base().SetError(text, code)
	msg.Base().ProcessTime = time.Since(start).Seconds()
	return x.reply(c, msg)
}

func (x *Xylem) reply(c echo.Context, msg synapse.Message) error {
	b, err := synapse.Marshal(msg)
	if err != nil {
		x.log.Errorw("Failed serializing response", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to serialize response"})
	}
	return c.JSONBlob(msg.Base().StatusCode, b)
}

// Start binds the listener and serves in the background. Calling Start on a
// running server is a no-op.
func (x *Xylem) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", x.cfg.IP, x.cfg.Port))
	if err != nil {
		return utils.Wrap("failed to bind listener", err)
	}
	x.ln = ln
	x.cfg.Port = ln.Addr().(*net.TCPAddr).Port
	x.e.Listener = ln
	x.started = true
	go func() {
		if err := x.e.Start(""); err != nil && err != http.ErrServerClosed {
			x.log.Errorw("Server exited", "error", err)
		}
	}()
	x.log.Infow("Serving", "ip", x.cfg.IP, "port", x.cfg.Port)
	return nil
}

// Stop shuts the server down gracefully, letting in-flight requests finish.
func (x *Xylem) Stop() error {
	x.mu.Lock()
	if !x.started {
		x.mu.Unlock()
		return nil
	}
	x.started = false
	x.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := x.e.Shutdown(ctx)
	x.pool.Shutdown()
	return err
}

func (x *Xylem) Info() Info {
	x.mu.Lock()
	defer x.mu.Unlock()
	names := make([]string, 0, len(x.services))
	for name := range x.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return Info{
		IP:           x.cfg.IP,
		Port:         x.cfg.Port,
		ExternalIP:   x.cfg.ExternalIP,
		ExternalPort: x.cfg.ExternalPort,
		Started:      x.started,
		Services:     names,
	}
}
