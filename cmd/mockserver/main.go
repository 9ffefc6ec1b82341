// Command mockserver runs the reference backend on TCP and WebSocket. It
// echoes requests, relays chat notifies and can broadcast a periodic tick.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oarkflow/json"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/oarkflow/connector/logger"
	"github.com/oarkflow/connector/metrics"
	"github.com/oarkflow/connector/server"
)

func main() {
	var (
		tcpAddr   = pflag.String("tcp", ":3250", "TCP listen address, empty to disable")
		wsAddr    = pflag.String("ws", ":3251", "WebSocket listen address, empty to disable")
		heartbeat = pflag.Duration("heartbeat", 30*time.Second, "heartbeat interval announced to clients")
		tick      = pflag.Duration("broadcast", 0, "interval of the onTick broadcast, 0 disables it")
		limit     = pflag.Float64("rate", 0, "per session message rate limit, 0 disables it")
		compress  = pflag.Bool("compress", false, "compress large bodies")
		silent    = pflag.Bool("silent", false, "disable logging")
	)
	pflag.Parse()

	var log logger.Logger = logger.NewDefaultLogger().With(logger.F("service", "mockserver"))
	if *silent {
		log = logger.NewNullLogger()
	}
	opts := []server.Option{
		server.WithLogger(log),
		server.WithHeartbeat(*heartbeat),
		server.WithRouteDict(map[string]uint16{"echo": 1, "chat.send": 2, "onChat": 3, "onTick": 4}),
	}
	if *limit > 0 {
		opts = append(opts, server.WithRateLimit(rate.Limit(*limit), int(*limit)+1))
	}
	if *compress {
		opts = append(opts, server.WithCompression(0))
	}
	serv, err := server.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mockserver:", err)
		os.Exit(1)
	}

	serv.OnHandshake(func(s *server.Session, user json.RawMessage) (any, error) {
		s.Set("user", user)
		return map[string]any{"ok": true, "session": s.ID()}, nil
	})
	serv.Handle("echo", func(s *server.Session, payload json.RawMessage) (any, error) {
		return payload, nil
	})
	serv.Handle("time.now", func(*server.Session, json.RawMessage) (any, error) {
		return map[string]string{"now": time.Now().Format(time.RFC3339Nano)}, nil
	})
	serv.HandleNotify("chat.send", func(s *server.Session, payload json.RawMessage) {
		serv.Broadcast("onChat", map[string]any{"from": s.ID(), "msg": payload})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mockserver:", err)
			os.Exit(1)
		}
		go func() {
			if err := serv.Serve(ln); err != nil && !errors.Is(err, server.ErrServerClosed) {
				log.Error("tcp server stopped", logger.Err(err))
			}
		}()
	}
	var httpServer *http.Server
	if *wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", serv)
		mux.Handle("/metrics", metrics.Handler())
		httpServer = &http.Server{Addr: *wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("websocket server stopped", logger.Err(err))
			}
		}()
	}
	if *tick > 0 {
		go func() {
			ticker := time.NewTicker(*tick)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					serv.Broadcast("onTick", map[string]int64{"at": now.UnixMilli()})
				}
			}
		}()
	}

	<-ctx.Done()
	serv.Shutdown()
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}
}
