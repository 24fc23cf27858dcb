package logger

// CronLogger adapts Logger to the robfig/cron logging interface.
type CronLogger struct {
	Logger Logger
}

// Info logs routine scheduler messages at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Logger.Debug("cron: "+msg, keysAndValues...)
}

// Error logs scheduler errors, including recovered panics.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.Logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
