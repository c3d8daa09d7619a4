package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/healthguide/internal/config"
	"github.com/MrWong99/healthguide/internal/health"
	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/internal/session"
)

// newServer builds the probe and metrics listener.
func (c *cli) newServer() *http.Server {
	mux := http.NewServeMux()
	health.New(c.readiness(), health.WithInfo(c.info)).Register(mux)
	scrape := c.scrape
	if scrape == nil {
		scrape = promhttp.Handler()
	}
	mux.Handle("GET /metrics", scrape)

	return &http.Server{
		Addr:              c.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(c.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func listen(srv *http.Server, tls *config.TLSConfig) error {
	var err error
	if tls != nil {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("listen %s: %w", srv.Addr, err)
}

func (c *cli) readiness() []health.Checker {
	return []health.Checker{
		{Name: "api_key", Check: func(context.Context) error {
			if c.cfg.Providers.Live.APIKey == "" && c.cfg.Providers.Chat.APIKey == "" {
				return errors.New("no Gemini API key configured")
			}
			return nil
		}},
		{Name: "call", Check: func(context.Context) error {
			ctrl := c.ctrl.Load()
			if ctrl == nil {
				return nil
			}
			if s := ctrl.Current(); s != nil && s.Phase() == session.PhaseError {
				return fmt.Errorf("%s: %v", s.ID(), s.Err())
			}
			return nil
		}},
	}
}

func (c *cli) info() map[string]string {
	info := map[string]string{"version": version}
	if ctrl := c.ctrl.Load(); ctrl != nil {
		info["call"] = session.PhaseIdle.String()
		if s := ctrl.Current(); s != nil {
			info["call"] = s.Phase().String()
			info["call_id"] = s.ID()
			info["voice"] = string(s.Voice())
		}
	}
	if cs := c.chat.Load(); cs != nil {
		info["chat_id"] = cs.ID()
		info["chat_model"] = cs.Model()
	}
	if mf := c.fallback.Load(); mf != nil {
		for name, st := range mf.States() {
			info["chat_circuit."+name] = st.String()
		}
	}
	return info
}
