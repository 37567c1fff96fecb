package athena

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// API is the subset of the Athena client used by Service.
type API interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// stopTimeout bounds the best-effort StopQueryExecution after a deadline.
const stopTimeout = 5 * time.Second

// Service implements inventory.QueryService against Athena.
type Service struct {
	client  API
	cfg     Config
	limiter *rate.Limiter
}

var _ inventory.QueryService = (*Service)(nil)

// New creates an Athena query service with the given configuration.
//
// The client uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &inventory.QueryError{
			Op:      "New",
			Backend: inventory.BackendAthena,
			Reason:  err.Error(),
			Err:     inventory.ErrQueryFailed,
		}
	}

	var opts []func(*athena.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *athena.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(athena.NewFromConfig(awsCfg, opts...), cfg)
}

// NewWithClient creates a service over an existing client.
func NewWithClient(client API, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Service{client: client, cfg: cfg}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// FetchRows runs a prefix-scoped query and returns an iterator over the
// result. The context deadline bounds both polling and result paging.
func (s *Service) FetchRows(ctx context.Context, q inventory.Query) (inventory.RowIterator, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, s.wrapError("StartQueryExecution", "", q.Prefix, ctxOr(ctx, err))
		}
	}

	queryID, err := s.startQuery(ctx, q.Prefix)
	if err != nil {
		return nil, err
	}

	if err := s.waitForQuery(ctx, queryID, q.Prefix); err != nil {
		return nil, err
	}

	return &resultIterator{
		svc:     s,
		ctx:     ctx,
		queryID: queryID,
		prefix:  q.Prefix,
	}, nil
}

// Close releases resources held by the service. The Athena client holds none.
func (s *Service) Close() error {
	return nil
}

func (s *Service) startQuery(ctx context.Context, prefix string) (string, error) {
	sql, params := buildQuery(s.cfg, prefix)

	input := &athena.StartQueryExecutionInput{
		QueryString:        aws.String(sql),
		ClientRequestToken: aws.String(uuid.NewString()),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(s.cfg.Database),
			Catalog:  aws.String(s.cfg.Catalog),
		},
	}
	if len(params) > 0 {
		input.ExecutionParameters = params
	}
	if s.cfg.OutputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{
			OutputLocation: aws.String(s.cfg.OutputLocation),
		}
	}
	if s.cfg.WorkGroup != "" {
		input.WorkGroup = aws.String(s.cfg.WorkGroup)
	}

	out, err := s.client.StartQueryExecution(ctx, input)
	if err != nil {
		return "", s.wrapError("StartQueryExecution", "", prefix, err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// waitForQuery polls until the execution reaches a terminal state.
func (s *Service) waitForQuery(ctx context.Context, queryID, prefix string) error {
	interval := s.cfg.PollInterval

	for {
		out, err := s.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(queryID),
		})
		if err != nil {
			if ctx.Err() != nil {
				s.stopQuery(ctx, queryID)
			}
			return s.wrapError("GetQueryExecution", queryID, prefix, ctxOr(ctx, err))
		}

		var status *types.QueryExecutionStatus
		if out.QueryExecution != nil {
			status = out.QueryExecution.Status
		}
		if status != nil {
			switch status.State {
			case types.QueryExecutionStateSucceeded:
				return nil
			case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
				reason := failureReason(status)
				return &inventory.QueryError{
					Op:      "GetQueryExecution",
					Backend: inventory.BackendAthena,
					QueryID: queryID,
					Prefix:  prefix,
					Reason:  reason,
					Err:     classifyFailure(reason),
				}
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stopQuery(ctx, queryID)
			return s.wrapError("GetQueryExecution", queryID, prefix, ctx.Err())
		case <-timer.C:
		}

		interval *= 2
		if interval > s.cfg.MaxPollInterval {
			interval = s.cfg.MaxPollInterval
		}
	}
}

// stopQuery cancels an execution whose caller gave up. Errors are ignored.
func (s *Service) stopQuery(ctx context.Context, queryID string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	_, _ = s.client.StopQueryExecution(stopCtx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(queryID),
	})
}

func failureReason(status *types.QueryExecutionStatus) string {
	if status.AthenaError != nil && aws.ToString(status.AthenaError.ErrorMessage) != "" {
		return aws.ToString(status.AthenaError.ErrorMessage)
	}
	return aws.ToString(status.StateChangeReason)
}

// classifyFailure maps the reason of a failed or cancelled execution to a sentinel.
func classifyFailure(reason string) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "slow down"),
		strings.Contains(lower, "slowdown"),
		strings.Contains(lower, "rate exceeded"),
		strings.Contains(lower, "too many"),
		strings.Contains(lower, "throttl"):
		return inventory.ErrQueryThrottled
	case strings.Contains(lower, "query timeout"),
		strings.Contains(lower, "timed out"):
		return inventory.ErrQueryTimeout
	}
	return inventory.ErrQueryFailed
}

// ctxOr prefers the context error when the context is done, so deadline
// expiry surfaced through an SDK error still maps to a timeout.
func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// wrapError converts SDK errors to query errors with the appropriate sentinel.
func (s *Service) wrapError(op, queryID, prefix string, err error) error {
	wrapped := &inventory.QueryError{
		Op:      op,
		Backend: inventory.BackendAthena,
		QueryID: queryID,
		Prefix:  prefix,
		Err:     inventory.ErrQueryFailed,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		wrapped.Err = inventory.ErrQueryTimeout
		return wrapped
	case errors.Is(err, context.Canceled):
		wrapped.Reason = "canceled"
		return wrapped
	}

	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		wrapped.Err = inventory.ErrQueryThrottled
		wrapped.Reason = tooMany.ErrorMessage()
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException", "Throttling", "SlowDown", "RequestLimitExceeded":
			wrapped.Err = inventory.ErrQueryThrottled
		}
		wrapped.Reason = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "429"):
		wrapped.Err = inventory.ErrQueryThrottled
	}
	wrapped.Reason = errMsg
	return wrapped
}
