package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Stage string

const (
	StageScreen   Stage = "screen"
	StagePool     Stage = "pool"
	StageIdentity Stage = "identity"
	StageQuote    Stage = "quote"
	StageSwap     Stage = "swap"
	StageDeliver  Stage = "deliver"
	StageRecover  Stage = "recover"
	StageEncrypt  Stage = "encrypt"
	StageShield   Stage = "shield"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageScreen, StagePool, StageIdentity, StageQuote, StageSwap,
	StageDeliver, StageRecover, StageEncrypt, StageShield,
}

type Status string

const (
	StatusStart   Status = "start"
	StatusSuccess Status = "success"
	StatusWarn    Status = "warn"
	StatusFail    Status = "fail"
	StatusInfo    Status = "info"
)

type Event struct {
	Stage   Stage             `json:"stage"`
	Status  Status            `json:"status"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
	Time    time.Time         `json:"time"`
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

type logSink struct {
	logger *zap.Logger
}

// LogSink writes events at Info, Warn (warn) and Error (fail).
func LogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logSink{logger: logger.Named("pipeline")}
}

func (s logSink) Emit(e Event) {
	fields := []zap.Field{zap.String("stage", string(e.Stage)), zap.String("status", string(e.Status))}
	for k, v := range e.Detail {
		fields = append(fields, zap.String(k, v))
	}
	switch e.Status {
	case StatusFail:
		s.logger.Error(e.Message, fields...)
	case StatusWarn:
		s.logger.Warn(e.Message, fields...)
	case StatusStart:
		s.logger.Debug(e.Message, fields...)
	default:
		s.logger.Info(e.Message, fields...)
	}
}

// Collector keeps every event it receives.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
