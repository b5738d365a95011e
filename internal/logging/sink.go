package logging

import (
	"context"
	"fmt"
)

// Sink is the narrow logging collaborator handed to extension instances.
// Hosts that only know "write a message at a level" and "report an error"
// can implement it without taking on the full Logger surface.
type Sink interface {
	Write(message string, level LogLevel)
	Error(err error)
}

// SinkFromLogger adapts a Logger to the Sink shape.
func SinkFromLogger(logger Logger) Sink {
	if logger == nil {
		logger = Nop()
	}
	return &loggerSink{logger: logger}
}

type loggerSink struct {
	logger Logger
}

func (s *loggerSink) Write(message string, level LogLevel) {
	ctx := context.Background()
	switch level {
	case LevelDebug:
		s.logger.Debug(ctx, message)
	case LevelWarn:
		s.logger.Warn(ctx, nil, message)
	case LevelError:
		s.logger.Error(ctx, nil, message)
	case LevelOff:
	default:
		s.logger.Info(ctx, message)
	}
}

func (s *loggerSink) Error(err error) {
	if err == nil {
		return
	}
	s.logger.Error(context.Background(), err, "extension reported an error")
}

// LoggerFromSink wraps a Sink so it can be passed where a Logger is expected.
// Structured fields are flattened into the message text.
func LoggerFromSink(sink Sink) Logger {
	return &sinkLogger{sink: sink}
}

type sinkLogger struct {
	sink      Sink
	component string
	fields    []interface{}
}

func (s *sinkLogger) format(msg string, fields []interface{}) string {
	all := append(append([]interface{}{}, s.fields...), fields...)
	if s.component != "" {
		msg = "[" + s.component + "] " + msg
	}
	for i := 0; i+1 < len(all); i += 2 {
		msg += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	return msg
}

func (s *sinkLogger) Debug(_ context.Context, msg string, fields ...interface{}) {
	s.sink.Write(s.format(msg, fields), LevelDebug)
}

func (s *sinkLogger) Info(_ context.Context, msg string, fields ...interface{}) {
	s.sink.Write(s.format(msg, fields), LevelInfo)
}

func (s *sinkLogger) Warn(_ context.Context, err error, msg string, fields ...interface{}) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	s.sink.Write(s.format(msg, fields), LevelWarn)
}

func (s *sinkLogger) Error(_ context.Context, err error, msg string, fields ...interface{}) {
	s.sink.Write(s.format(msg, fields), LevelError)
	if err != nil {
		s.sink.Error(err)
	}
}

func (s *sinkLogger) With(fields ...interface{}) Logger {
	return &sinkLogger{
		sink:      s.sink,
		component: s.component,
		fields:    append(append([]interface{}{}, s.fields...), fields...),
	}
}

func (s *sinkLogger) WithComponent(component string) Logger {
	return &sinkLogger{sink: s.sink, component: component, fields: s.fields}
}
