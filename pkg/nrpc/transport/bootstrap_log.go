package transport

import (
	promlog "github.com/prometheus/common/log"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
)

// bootstrapLogger backs BindTCP/ConnectTCP when called without a logger,
// covering the window between net.Listen/net.Dial succeeding and an
// endpoint attaching its own configured nlog.Logger. Grounded on
// pkg/mcast/core/transport.go, which reaches for prometheus/common/log the
// same way for its own connection-level logging.
type bootstrapLogger struct {
	debug bool
}

func newBootstrapLogger() *bootstrapLogger { return &bootstrapLogger{} }

func (b *bootstrapLogger) Info(v ...interface{})            { promlog.Info(v...) }
func (b *bootstrapLogger) Infof(f string, v ...interface{})  { promlog.Infof(f, v...) }
func (b *bootstrapLogger) Warn(v ...interface{})            { promlog.Warn(v...) }
func (b *bootstrapLogger) Warnf(f string, v ...interface{})  { promlog.Warnf(f, v...) }
func (b *bootstrapLogger) Error(v ...interface{})            { promlog.Error(v...) }
func (b *bootstrapLogger) Errorf(f string, v ...interface{}) { promlog.Errorf(f, v...) }
func (b *bootstrapLogger) Fatal(v ...interface{})            { promlog.Fatal(v...) }
func (b *bootstrapLogger) Fatalf(f string, v ...interface{}) { promlog.Fatalf(f, v...) }
func (b *bootstrapLogger) Panic(v ...interface{})            { promlog.Error(v...); panic(v) }
func (b *bootstrapLogger) Panicf(f string, v ...interface{}) { promlog.Errorf(f, v...); panic(v) }

func (b *bootstrapLogger) Debug(v ...interface{}) {
	if b.debug {
		promlog.Debug(v...)
	}
}

func (b *bootstrapLogger) Debugf(f string, v ...interface{}) {
	if b.debug {
		promlog.Debugf(f, v...)
	}
}

func (b *bootstrapLogger) ToggleDebug(value bool) bool {
	previous := b.debug
	b.debug = value
	return previous
}

var _ nlog.Logger = (*bootstrapLogger)(nil)
