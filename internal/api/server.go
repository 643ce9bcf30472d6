package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/submitter"
)

// Queries is the read side served straight from the mirror. The mirror
// may lag the chain; callers needing authoritative answers use verify.
type Queries interface {
	GetSchema(ctx context.Context, schemaID string) (*store.Schema, error)
	GetAttestation(ctx context.Context, attestationID string) (*store.Attestation, error)
	ListAttestations(ctx context.Context, subject, schemaID string, limit int) ([]store.Attestation, error)
}

// Writer is the write side, backed by the nonce-coordinated submitter
// with the service signer bound in.
type Writer interface {
	CreateSchema(ctx context.Context, uriHashHex string, revocable, expiresAllowed bool, attesterMode uint32) (string, error)
	Attest(ctx context.Context, schemaIDHex, subject, dataHashHex string, expiration *uint64) (string, error)
	Revoke(ctx context.Context, attestationIDHex string) error
	Verify(ctx context.Context, attestationIDHex string) (*submitter.VerifyResult, error)
	Nonce(ctx context.Context, attester string) (uint64, error)
}

// Checkpointer reports the indexer's resume position for /health.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (string, bool, error)
}

// Server is the HTTP front for the mirror and the write path.
type Server struct {
	queries    Queries
	writer     Writer
	checkpoint Checkpointer
	log        *zap.Logger
	startTime  time.Time
	http       *http.Server
}

func NewServer(port int, queries Queries, writer Writer, checkpoint Checkpointer, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{
		queries:    queries,
		writer:     writer,
		checkpoint: checkpoint,
		log:        log,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /schemas", s.handleCreateSchema)
	mux.HandleFunc("GET /schemas/{id}", s.handleGetSchema)
	mux.HandleFunc("POST /attestations", s.handleAttest)
	mux.HandleFunc("GET /attestations", s.handleListAttestations)
	mux.HandleFunc("GET /attestations/{id}", s.handleGetAttestation)
	mux.HandleFunc("GET /attestations/{id}/verify", s.handleVerify)
	mux.HandleFunc("POST /attestations/{id}/revoke", s.handleRevoke)
	mux.HandleFunc("GET /nonce/{attester}", s.handleNonce)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("API server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
