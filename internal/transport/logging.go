package transport

import (
	"trackmix/internal/log"
)

var logTransportLog = log.Named("meter")

// LoggingTransport implements the Transport interface by logging data at
// debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	logTransportLog.Infof("using logging transport")
	return &LoggingTransport{}
}

// Send logs the received data. Logging transport never fails to "send".
func (lt *LoggingTransport) Send(data any) error {
	logTransportLog.Debugf("%v", data)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	logTransportLog.Debugf("logging transport closed")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
