package fragments

import (
	"context"
	"log/slog"
	"time"
)

// EvaluatorLogEvent describes an evaluation attempt for logging.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Target   string
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// TransitionLogEvent describes one state change of a fragment or record.
type TransitionLogEvent struct {
	Type     string
	Location string
	From     string
	To       string
}

// TransitionLogger records state machine transitions.
type TransitionLogger interface {
	LogTransition(TransitionLogEvent)
}

// TransitionLoggerFunc adapts a function to TransitionLogger.
type TransitionLoggerFunc func(TransitionLogEvent)

// LogTransition implements TransitionLogger.
func (f TransitionLoggerFunc) LogTransition(event TransitionLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopTransitionLogger struct{}

func (noopTransitionLogger) LogTransition(TransitionLogEvent) {}

// WithEvaluatorLogger attaches an evaluator logger to the store.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *storeConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithTransitionLogger attaches a transition logger to the store.
func WithTransitionLogger(logger TransitionLogger) Option {
	return func(cfg *storeConfig) {
		if logger == nil {
			cfg.transitions = noopTransitionLogger{}
			return
		}
		cfg.transitions = logger
	}
}

// SlogLogger writes evaluator and transition events through a slog.Logger.
// Transitions are logged at debug level, evaluations at debug level unless
// they fail.
type SlogLogger struct {
	Logger *slog.Logger
}

// NewSlogLogger wraps logger, falling back to slog.Default when nil.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{Logger: logger}
}

// LogEvaluation implements EvaluatorLogger.
func (l *SlogLogger) LogEvaluation(event EvaluatorLogEvent) {
	logger := l.logger()
	attrs := []slog.Attr{
		slog.String("engine", event.Engine),
		slog.String("expr", event.Expr),
		slog.String("target", event.Target),
		slog.Duration("duration", event.Duration),
	}
	if event.Err != nil {
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		logger.LogAttrs(context.Background(), slog.LevelWarn, "fragments: evaluation failed", attrs...)
		return
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug, "fragments: evaluation", attrs...)
}

// LogTransition implements TransitionLogger.
func (l *SlogLogger) LogTransition(event TransitionLogEvent) {
	l.logger().LogAttrs(context.Background(), slog.LevelDebug, "fragments: transition",
		slog.String("type", event.Type),
		slog.String("location", event.Location),
		slog.String("from", event.From),
		slog.String("to", event.To),
	)
}

func (l *SlogLogger) logger() *slog.Logger {
	if l == nil || l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
