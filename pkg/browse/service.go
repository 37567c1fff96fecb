// Package browse answers directory listing requests for virtual paths.
//
// It ties the path resolver, the listing cache, an inventory query backend,
// and the listing builder together behind ListDirectory.
package browse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/listcache"
	"github.com/3leaps/lakeview/pkg/listing"
)

// DefaultQueryTimeout bounds a single inventory query.
const DefaultQueryTimeout = 60 * time.Second

// Options configures a Service.
type Options struct {
	// QueryTimeout is the deadline for one FetchRows plus row consumption.
	QueryTimeout time.Duration

	// Logger receives cache and query events. Nil disables logging.
	Logger *zap.Logger
}

// Service lists directories. It is safe for concurrent use.
type Service struct {
	query   inventory.QueryService
	cache   *listcache.Cache
	timeout time.Duration
	log     *zap.Logger
}

// NewService creates a browse service.
func NewService(query inventory.QueryService, cache *listcache.Cache, opts Options) (*Service, error) {
	if query == nil {
		return nil, errors.New("browse: query service is required")
	}
	if cache == nil {
		return nil, errors.New("browse: cache is required")
	}
	if opts.QueryTimeout < 0 {
		return nil, fmt.Errorf("browse: query timeout must be >= 0, got %s", opts.QueryTimeout)
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		query:   query,
		cache:   cache,
		timeout: opts.QueryTimeout,
		log:     opts.Logger,
	}, nil
}

// Result is a listing plus where it came from.
type Result struct {
	*listing.Listing

	// CachedAt is when the listing was computed.
	CachedAt time.Time
}

// ListDirectory returns the immediate children of virtualPath.
//
// Errors are listing.ErrInvalidPath for unresolvable paths, or a
// *listcache.ComputeError wrapping the inventory query error. An empty
// listing is returned both for empty directories and for paths with no keys.
func (s *Service) ListDirectory(ctx context.Context, virtualPath string) (*Result, error) {
	scope, err := listing.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, scope)
}

// Refresh drops any cached listing for virtualPath and lists it again. If a
// listing of the same scope is already being computed, Refresh waits for that
// result instead of issuing another query.
func (s *Service) Refresh(ctx context.Context, virtualPath string) (*Result, error) {
	scope, err := listing.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(scope)
	s.log.Info("Listing invalidated", zap.String("prefix", scope.Prefix))
	return s.list(ctx, scope)
}

// CacheStats returns the listing cache counters.
func (s *Service) CacheStats() listcache.Stats {
	return s.cache.Stats()
}

func (s *Service) list(ctx context.Context, scope listing.Scope) (*Result, error) {
	computed := false
	l, err := s.cache.GetOrCompute(ctx, scope, func(ctx context.Context) (*listing.Listing, error) {
		computed = true
		return s.fetch(ctx, scope)
	})
	if err != nil {
		s.log.Warn("Listing failed",
			zap.String("prefix", scope.Prefix),
			zap.Error(err),
		)
		return nil, err
	}

	res := &Result{Listing: l}
	if e, ok := s.cache.Peek(scope); ok && e.Listing == l {
		res.CachedAt = e.CreatedAt
	}

	if !computed {
		s.log.Debug("Listing reused",
			zap.String("prefix", scope.Prefix),
			zap.Int("entries", l.Len()),
		)
	}
	return res, nil
}

// fetch runs the inventory query for scope under the query deadline and
// builds the listing.
func (s *Service) fetch(ctx context.Context, scope listing.Scope) (*listing.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	s.log.Debug("Listing cache miss", zap.String("prefix", scope.Prefix))

	rows, err := s.query.FetchRows(ctx, inventory.Query{Prefix: scope.Prefix})
	if err != nil {
		return nil, asTimeout(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	l, err := listing.Build(scope, rows)
	if err != nil {
		return nil, asTimeout(ctx, err)
	}

	s.log.Info("Listing computed",
		zap.String("prefix", scope.Prefix),
		zap.Int("folders", l.Stats.Folders),
		zap.Int("files", l.Stats.Files),
		zap.Int64("rows_scanned", l.Stats.RowsScanned),
		zap.Int64("rows_discarded", l.Stats.RowsDiscarded),
		zap.Duration("duration", time.Since(start)),
	)
	return l, nil
}

// asTimeout reports an expired query deadline as ErrQueryTimeout even when
// the backend surfaced it as something else.
func asTimeout(ctx context.Context, err error) error {
	if inventory.IsQueryTimeout(err) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &inventory.QueryError{
			Op:     "FetchRows",
			Reason: err.Error(),
			Err:    inventory.ErrQueryTimeout,
		}
	}
	return err
}
