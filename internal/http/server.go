// Package http serves the diagnostics API of a running encoder stage.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = time.Second

type Option func(*Server) error

// Address sets the TCP address for HTTP/1.1. With TLS enabled HTTP/3 uses
// the same port on UDP.
func Address(address string) Option {
	return func(s *Server) error {
		s.h1.Addr = address
		s.h3.Addr = address
		return nil
	}
}

func Handle(handler http.Handler) Option {
	return func(s *Server) error {
		s.handler = handler
		return nil
	}
}

func RequestLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.requestLogger = logger
		return nil
	}
}

func Certificate(cert tls.Certificate) Option {
	return func(s *Server) error {
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{http3.NextProtoH3, "http/1.1"},
		}
		return nil
	}
}

func CertificateFile(certFile, keyFile string) Option {
	return func(s *Server) error {
		if certFile == "" && keyFile == "" {
			return nil
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("failed to read TLS certificate or key: %w", err)
		}
		return Certificate(cert)(s)
	}
}

// Server serves plain HTTP/1.1 by default. With a certificate it serves
// HTTPS on TCP and HTTP/3 on UDP instead.
type Server struct {
	logger        *slog.Logger
	requestLogger *slog.Logger

	handler http.Handler

	tlsConfig  *tls.Config
	quicConfig *quic.Config
	h1         *http.Server
	h3         *http3.Server
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:     slog.Default().With("component", "http-server"),
		handler:    http.DefaultServeMux,
		quicConfig: &quic.Config{},
		h1:         &http.Server{ReadHeaderTimeout: 10 * time.Second},
		h3:         &http3.Server{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	handler := s.handler
	if s.tlsConfig != nil {
		s.h1.TLSConfig = s.tlsConfig
		s.h3.TLSConfig = s.tlsConfig
		handler = s.setAltSvcHeader(handler)
	}
	if s.requestLogger != nil {
		handler = s.logRequest(handler)
	}
	s.h1.Handler = handler
	s.h3.Handler = handler
	return s, nil
}

func (s *Server) TLS() bool {
	return s.tlsConfig != nil
}

// ListenAndServe serves until ctx is done and then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.h1.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts HTTP connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if s.TLS() {
			s.logger.Info("serving HTTPS", "address", ln.Addr())
			err = s.h1.ServeTLS(ln, "", "")
		} else {
			s.logger.Info("serving HTTP/1.1", "address", ln.Addr())
			err = s.h1.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if s.TLS() {
		eg.Go(func() error {
			s.logger.Info("serving HTTP/3", "address", s.h3.Addr)
			err := s.ListenAndServeQUIC(ctx)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.h1.Shutdown(shutdownCtx)
		if s.TLS() {
			err = errors.Join(err, s.h3.Shutdown(shutdownCtx))
		}
		return err
	})
	return eg.Wait()
}

func (s *Server) ListenAndServeQUIC(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.h3.Addr)
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	tr := &quic.Transport{
		Conn: udpConn,
	}
	defer tr.Close()
	ln, err := tr.Listen(s.tlsConfig, s.quicConfig)
	if err != nil {
		return err
	}
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept(ctx)
		if errors.Is(err, quic.ErrServerClosed) || ctx.Err() != nil {
			return http.ErrServerClosed
		}
		if err != nil {
			return err
		}
		if conn.ConnectionState().TLS.NegotiatedProtocol != http3.NextProtoH3 {
			conn.CloseWithError(0, "unsupported protocol")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.h3.ServeQUICConn(conn); err != nil {
				s.logger.Debug("error on serving QUIC conn", "error", err)
			}
		}()
	}
}

// Middleware

func (s *Server) setAltSvcHeader(next http.Handler) http.Handler {
	_, portStr, err := net.SplitHostPort(s.h3.Addr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	portInt, err := net.LookupPort("udp", portStr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			altSvc := fmt.Sprintf(`%s=":%d"; ma=2592000`, http3.NextProtoH3, portInt)
			w.Header()["Alt-Svc"] = []string{altSvc}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger.Debug("got request", "method", r.Method, "path", r.URL.Path, "proto", r.Proto, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
