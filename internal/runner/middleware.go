package runner

import (
	"context"

	"go.uber.org/zap"
)

// FailureLogger logs failed iterations.
type FailureLogger interface {
	LogFailure(err error)
}

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner  Requester
	logger FailureLogger
}

// WithLogging wraps a Requester to log failures.
func WithLogging(req Requester, logger FailureLogger) Requester {
	if logger == nil {
		return req
	}
	return &loggingRequester{
		inner:  req,
		logger: logger,
	}
}

func (l *loggingRequester) Do(ctx context.Context) error {
	err := l.inner.Do(ctx)
	if err != nil && l.logger != nil && ctx.Err() == nil {
		l.logger.LogFailure(err)
	}
	return err
}

// ZapFailureLogger reports failures at debug level.
type ZapFailureLogger struct {
	Logger *zap.Logger
}

func (z ZapFailureLogger) LogFailure(err error) {
	if z.Logger == nil {
		return
	}
	z.Logger.Debug("iteration failed", zap.Error(err))
}
