package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/oidc-session/pkg/metrics"
	"github.com/telekom/oidc-session/pkg/ratelimit"
)

const shutdownTimeout = 5 * time.Second

var ginModeOnce sync.Once

// CallbackFunc handles the single redirect request. A nil error renders the
// success page, anything else the failure page with status 401.
type CallbackFunc func(ctx context.Context, query url.Values) error

// CallbackListener is an ephemeral HTTP server that accepts exactly one
// request on its redirect path and then stops itself.
type CallbackListener struct {
	log    *zap.SugaredLogger
	path   string
	ln     net.Listener
	server *http.Server

	limiter   *ratelimit.Limiter
	handle    CallbackFunc
	consumed  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// ListenCallback binds 127.0.0.1:port. Port 0 picks a free port.
func ListenCallback(log *zap.SugaredLogger, port int, path string) (*CallbackListener, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: port %d: %w", ErrPortInUse, port, err)
		}
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}
	l := &CallbackListener{
		log:     log,
		path:    "/" + trimSlash(path),
		ln:      ln,
		limiter: ratelimit.New(ratelimit.DefaultCallbackConfig()),
		done:    make(chan struct{}),
	}
	l.server = &http.Server{Handler: l.routes(), ReadHeaderTimeout: 10 * time.Second}
	return l, nil
}

func (l *CallbackListener) routes() http.Handler {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	zl := l.log.Desugar()
	engine.Use(
		ginzap.Ginzap(zl, time.RFC3339, true),
		ginzap.RecoveryWithZap(zl, true),
		l.limiter.Middleware(func(c *gin.Context) bool {
			return c.Request.URL.Path == l.path
		}, func(c *gin.Context) {
			metrics.ListenerThrottled.Inc()
			writePage(c, http.StatusTooManyRequests, "Too Many Requests", "Slow down.")
		}),
	)
	engine.HandleMethodNotAllowed = true
	engine.GET(l.path, l.handleCallback)
	engine.NoRoute(func(c *gin.Context) {
		writePage(c, http.StatusNotFound, "Not Found", "There is nothing here.")
	})
	engine.NoMethod(func(c *gin.Context) {
		writePage(c, http.StatusMethodNotAllowed, "Method Not Allowed", "Only GET is supported.")
	})
	return engine
}

// Port returns the bound port.
func (l *CallbackListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound host:port.
func (l *CallbackListener) Addr() string {
	return l.ln.Addr().String()
}

// RedirectURI returns the URI the provider must redirect to.
func (l *CallbackListener) RedirectURI() string {
	return redirectURI(l.Port(), l.path)
}

// Serve starts accepting requests in the background.
func (l *CallbackListener) Serve(handle CallbackFunc) {
	l.handle = handle
	go func() {
		l.log.Debugw("Callback listener started", "addr", l.Addr(), "path", l.path)
		if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Warnw("Callback listener stopped unexpectedly", "error", err)
			l.Close()
		}
	}()
}

func (l *CallbackListener) handleCallback(c *gin.Context) {
	if !l.consumed.CompareAndSwap(false, true) {
		writePage(c, http.StatusGone, "Already Handled", "This sign-in request was already processed.")
		return
	}
	// The exchange runs to completion even if the browser goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := l.handle(ctx, c.Request.URL.Query()); err != nil {
		l.log.Infow("Authentication callback failed", "error", err)
		writePage(c, http.StatusUnauthorized, "Authentication failed.", err.Error())
	} else {
		writePage(c, http.StatusOK, "Authentication is complete.", "Close the browser tab and return to the application.")
	}
	go l.Close()
}

// Close stops the listener and releases the port. It is idempotent and waits
// for in-flight requests up to a short grace period.
func (l *CallbackListener) Close() {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			l.log.Warnw("Failed to shut down callback listener gracefully", "error", err)
			_ = l.server.Close()
		}
		// Serve may never have run; the socket still has to go.
		_ = l.ln.Close()
		l.log.Debugw("Callback listener stopped", "addr", l.Addr())
		close(l.done)
	})
}

// Done is closed once the listener has stopped and the port is free.
func (l *CallbackListener) Done() <-chan struct{} {
	return l.done
}
