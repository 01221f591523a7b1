package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"auth-token-service/internal/config"
	"auth-token-service/internal/factory"
	"auth-token-service/internal/handler"
	"auth-token-service/internal/util"
)

func main() {
	f, err := factory.NewFactory(context.Background())
	if err != nil {
		// The logger may not exist yet if configuration failed to load.
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f, cfg)

	servers := []*http.Server{}
	if cfg.Server.EnableTLS {
		httpsServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.TLSPort),
			Handler:      router,
			TLSConfig:    f.TLSManager().TLSConfig(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		// The plain listener answers ACME challenges and redirects to HTTPS.
		httpServer := &http.Server{
			Addr:              cfg.GetServerAddress(),
			Handler:           f.TLSManager().HTTPHandler(redirectToHTTPS(cfg.Server.TLSPort)),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
		servers = append(servers, httpsServer, httpServer)

		go serve(httpsServer, true)
		go serve(httpServer, false)

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		server := &http.Server{
			Addr:         cfg.GetServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		servers = append(servers, server)
		go serve(server, false)

		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	waitForShutdown(servers...)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory, cfg *config.Config) http.Handler {
	sf := f.ServiceFactory()
	authHandler := handler.NewAuthHandler(sf.SessionService(), sf.OTPService(), cfg.Token.TokenType, f.Logger())
	return handler.NewRouter(authHandler, f.HealthCheck, handler.RouterConfig{
		RequireTLS:     cfg.Server.EnableTLS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		APIPrefix:      cfg.Server.APIPrefix,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, f.Logger())
}

func redirectToHTTPS(tlsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		target := "https://" + net.JoinHostPort(host, strconv.Itoa(tlsPort)) + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}

func serve(server *http.Server, useTLS bool) {
	var err error
	if useTLS {
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server failed to start", util.String("address", server.Addr), util.ErrorField(err))
	}
}

func waitForShutdown(servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
}
