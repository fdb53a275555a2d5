package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type entryKey struct{}

// New builds a JSON-line logger. Unknown levels fall back to info.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// WithEntry returns a context carrying entry.
func WithEntry(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, entryKey{}, entry)
}

// FromContext returns the request-scoped entry, or a discarding entry when
// none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := Lookup(ctx); ok {
		return entry
	}
	return logrus.NewEntry(discard)
}

// Lookup returns the entry attached to ctx, if any.
func Lookup(ctx context.Context) (*logrus.Entry, bool) {
	entry, ok := ctx.Value(entryKey{}).(*logrus.Entry)
	return entry, ok && entry != nil
}

// Enrich adds fields to the context's entry and returns the derived context.
func Enrich(ctx context.Context, fields logrus.Fields) context.Context {
	return WithEntry(ctx, FromContext(ctx).WithFields(fields))
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type fieldsKey struct{}

// WithFieldSink attaches a mutable field set that inner layers can fill via
// AddField; the returned map is the same set.
func WithFieldSink(ctx context.Context) (context.Context, logrus.Fields) {
	fields := logrus.Fields{}
	return context.WithValue(ctx, fieldsKey{}, fields), fields
}

// AddField records key on the nearest field sink. No-op without one.
func AddField(ctx context.Context, key string, value any) {
	if fields, ok := ctx.Value(fieldsKey{}).(logrus.Fields); ok {
		fields[key] = value
	}
}
