package transport

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const serverShutdownTimeout = 5 * time.Second

// ListenTarget splits a server URL into the bind address and route path.
func ListenTarget(rawURL string, schemes ...string) (addr, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if len(schemes) > 0 {
		ok := false
		for _, s := range schemes {
			if strings.EqualFold(u.Scheme, s) {
				ok = true
				break
			}
		}
		if !ok {
			return "", "", fmt.Errorf("unsupported scheme %q, want one of %v", u.Scheme, schemes)
		}
	}
	if u.Host == "" {
		return "", "", errors.New("url has no host")
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return "", "", fmt.Errorf("server url needs host:port: %w", err)
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

// Authorized checks the bearer token in the Authorization header or the
// access_token query parameter. An empty token accepts every request.
func Authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got := r.URL.Query().Get("access_token")
	if h := r.Header.Get("Authorization"); h != "" {
		bearer, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return false
		}
		got = strings.TrimSpace(bearer)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// ServeHTTP binds addr, reports the bound address, and serves handler until ctx
// is done. Bind failures are returned immediately.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, onListening func(string)) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if onListening != nil {
		onListening(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
