package joblog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parcelforge/conveyor/clock"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels.
const SubscriberChannelBufferSize = 100

// Capture accumulates the log events of one invocation between Start
// and End. Events written through Logger before Start or after End are
// forwarded to the base logger but not captured.
type Capture interface {
	// Start begins capturing. For persistent captures this loads any
	// artifact left by a prior lease of the same invocation chain so
	// resumed work appends rather than overwrites.
	Start(ctx context.Context) error

	// Logger returns a logger that tees into the capture and into the
	// base logger the capture was built with.
	Logger() *zap.SugaredLogger

	// Subscribe returns a channel receiving captured events live.
	// The caller must call Unsubscribe when done. The channel is
	// buffered; slow subscribers miss events rather than block capture.
	Subscribe() chan Event

	// Unsubscribe removes a subscriber channel. The channel is not
	// closed here so callers control its lifecycle.
	Unsubscribe(ch chan Event)

	// End stops capturing and persists the artifact, returning its URL.
	// Captures without persistence return "".
	End(ctx context.Context) (string, error)
}

// buffer is the shared capture machinery: the event slice, the started
// gate, and live subscribers. Memory and blob captures both embed it.
type buffer struct {
	mu          sync.RWMutex
	started     bool
	events      []Event
	subscribers []chan Event
	log         *zap.SugaredLogger
}

// initLogger builds the teed logger. Must be called once before use.
func (b *buffer) initLogger(base *zap.SugaredLogger, clk clock.Clock) {
	var core zapcore.Core = &captureCore{buf: b, LevelEnabler: zapcore.DebugLevel}
	if base != nil {
		core = zapcore.NewTee(base.Desugar().Core(), core)
	}
	opts := []zap.Option{}
	if clk != nil {
		opts = append(opts, zap.WithClock(zapClock{clk}))
	}
	b.log = zap.New(core, opts...).Sugar()
}

func (b *buffer) Logger() *zap.SugaredLogger {
	return b.log
}

func (b *buffer) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *buffer) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// record appends one event if the capture is started and fans it out
// to subscribers with non-blocking sends.
func (b *buffer) record(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	b.events = append(b.events, ev)
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// snapshot copies the captured events.
func (b *buffer) snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *buffer) setStarted(started bool) {
	b.mu.Lock()
	b.started = started
	b.mu.Unlock()
}

// prepend seeds the buffer with events loaded from a prior artifact.
func (b *buffer) prepend(events []Event) {
	b.mu.Lock()
	b.events = append(events, b.events...)
	b.mu.Unlock()
}

// captureCore is the zapcore.Core that feeds a buffer. Entries arriving
// while the capture is not started fall through the gate in record.
type captureCore struct {
	buf *buffer
	zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *captureCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &captureCore{
		buf:          c.buf,
		LevelEnabler: c.LevelEnabler,
		fields:       make([]zapcore.Field, 0, len(c.fields)+len(fields)),
	}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	var fieldMap map[string]interface{}
	if len(c.fields)+len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		fieldMap = enc.Fields
	}

	c.buf.record(Event{
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Fields:    fieldMap,
	})
	return nil
}

func (c *captureCore) Sync() error { return nil }

// zapClock adapts clock.Clock to zapcore.Clock so captured timestamps
// follow the injected clock in tests.
type zapClock struct {
	clk clock.Clock
}

func (z zapClock) Now() time.Time {
	return z.clk.Now()
}

func (z zapClock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}
