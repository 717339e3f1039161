package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const DefaultCallbackPath = "/callback"

// LoopbackReceiver serves the provider redirect on 127.0.0.1 for clients that
// are not web servers themselves.
type LoopbackReceiver struct {
	listener net.Listener
	server   *http.Server
	path     string
	present  func(authURL string) error
	results  chan Callback
}

type LoopbackOption func(*LoopbackReceiver)

// WithPresenter sets how the authorization URL reaches the user.
func WithPresenter(present func(authURL string) error) LoopbackOption {
	return func(r *LoopbackReceiver) {
		if present != nil {
			r.present = present
		}
	}
}

func WithCallbackPath(path string) LoopbackOption {
	return func(r *LoopbackReceiver) {
		if path != "" {
			r.path = path
		}
	}
}

// NewLoopbackReceiver listens on 127.0.0.1:port. Port 0 picks a free port.
func NewLoopbackReceiver(port int, opts ...LoopbackOption) (*LoopbackReceiver, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("loopback receiver: listen: %w", err)
	}

	r := &LoopbackReceiver{
		listener: listener,
		path:     DefaultCallbackPath,
		present:  func(string) error { return nil },
		results:  make(chan Callback, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(r.path, r.handleCallback)
	r.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = r.server.Serve(listener)
	}()

	return r, nil
}

func (r *LoopbackReceiver) RedirectURL() string {
	return fmt.Sprintf("http://%s%s", r.listener.Addr().String(), r.path)
}

// Receive presents authURL and waits for the first callback or ctx.
func (r *LoopbackReceiver) Receive(ctx context.Context, authURL string) (Callback, error) {
	if err := r.present(authURL); err != nil {
		return Callback{}, err
	}

	select {
	case callback := <-r.results:
		return callback, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

func (r *LoopbackReceiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}

func (r *LoopbackReceiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	callback := CallbackFromQuery(req.URL.Query())

	select {
	case r.results <- callback:
	default:
		http.Error(w, "sign-in already received", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if callback.Denied() {
		_, _ = io.WriteString(w, "Sign-in was cancelled. You can close this window.")
		return
	}
	_, _ = io.WriteString(w, "Sign-in received. You can close this window.")
}
