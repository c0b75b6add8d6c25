package logging

import "go.uber.org/zap"

// Reporter receives the outcome of every store action and queue replay.
type Reporter interface {
	Report(action string, err error)
}

// ZapReporter logs successes at debug and failures at error level.
type ZapReporter struct {
	logger *zap.Logger
}

// NewReporter creates a Reporter writing to logger. A nil logger discards.
func NewReporter(logger *zap.Logger) *ZapReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapReporter{logger: logger}
}

func (r *ZapReporter) Report(action string, err error) {
	if err != nil {
		r.logger.Error("action failed", zap.String("action", action), zap.Error(err))
		return
	}
	r.logger.Debug("action succeeded", zap.String("action", action))
}
