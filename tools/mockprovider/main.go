// Command mockprovider runs an in-memory signing provider for local
// development. It speaks the same PAR, authorize, token and signDoc flow as
// the production service and signs with a throwaway CA.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/logging"
	"github.com/vocdoni/gofirma/qessign/internal/mockprovider"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
)

func main() {
	var (
		listen       string
		publicURL    string
		clientID     string
		clientSecret string
		credentialID string
		tlsCert      string
		tlsKey       string
		logLevel     string
	)
	flag.StringVar(&listen, "listen", "127.0.0.1:9090", "Address to listen on")
	flag.StringVar(&publicURL, "public-url", "", "Base URL clients use (default: derived from --listen)")
	flag.StringVar(&clientID, "client-id", "qessign-dev", "Accepted client id")
	flag.StringVar(&clientSecret, "client-secret", "qessign-dev-secret", "Accepted client secret")
	flag.StringVar(&credentialID, "credential", "", "Only accept this credential id (default: any)")
	flag.StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	flag.StringVar(&tlsKey, "tls-key", "", "TLS private key file")
	flag.StringVar(&logLevel, "log-level", "debug", "Log level")
	flag.Parse()

	logger, err := logging.New(logLevel, "console")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if publicURL == "" {
		scheme := "http"
		if tlsCert != "" {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, listen)
	}

	p, err := mockprovider.New(mockprovider.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CredentialID: credentialID,
		Issuer:       publicURL + "/auth/realms/broker",
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create provider", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock provider listening",
		zap.String("addr", listen),
		zap.String("client_id", clientID),
		zap.String("jwks_url", publicURL+rdsc.CertsPath),
		zap.String("signer", p.PKI().Signer.Subject.String()),
	)
	fmt.Fprintf(os.Stderr, "\nPoint qessign at this provider with:\n\n"+
		"provider:\n  client_id: %s\n  client_secret: %s\n  jwks_url: %s\n"+
		"  endpoints:\n    auth_url: %s\n    auth_mtls_url: %s\n    sign_url: %s\n\n",
		clientID, clientSecret, publicURL+rdsc.CertsPath, publicURL, publicURL, publicURL)

	if tlsCert != "" {
		err = srv.ListenAndServeTLS(tlsCert, tlsKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
