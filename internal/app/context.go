package app

import (
	"context"
	"io"

	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/infra/config"
	"github.com/grabd/grabd/internal/infra/logger"
)

// Resolver is the pluggable extraction capability. Implementations map a
// source URL to its quality variants and open the byte stream for a chosen
// one. They must be safe for concurrent use on distinct URLs and must not
// retry internally; retry policy belongs to the engine.
type Resolver interface {
	// Resolve returns the media title and the available variants, sorted
	// best-first. Failures are one of domain.ErrUnsupportedURL,
	// ErrNetworkUnavailable, ErrAuthRequired or ErrNoVariants (wrapped).
	Resolve(ctx context.Context, url string) (string, []domain.VariantDescriptor, error)

	// Open returns a readable stream for the chosen variant plus the total
	// length in bytes, or -1 when unknown.
	Open(ctx context.Context, url string, variant domain.VariantDescriptor) (io.ReadCloser, int64, error)
}

// Store persists the job table so history survives restarts.
type Store interface {
	SaveJob(job *domain.Job) error
	DeleteJob(id string) error
	GetJobs() ([]*domain.Job, error)
	Close() error
}

// Context holds the core environment and shared resources for grabd.
// It acts as the single source of truth for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Resolver Resolver
	Store    Store
}

func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
