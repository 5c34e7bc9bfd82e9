package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Environment variables carrying W3C trace context into worker processes.
const (
	EnvTraceParent = "TRACEPARENT"
	EnvTraceState  = "TRACESTATE"
)

var envKeys = map[string]string{
	"traceparent": EnvTraceParent,
	"tracestate":  EnvTraceState,
}

// envCarrier adapts an environment map to a TextMapCarrier.
type envCarrier map[string]string

func (c envCarrier) Get(key string) string {
	return c[envName(key)]
}

func (c envCarrier) Set(key, value string) {
	c[envName(key)] = value
}

func (c envCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, strings.ToLower(k))
	}

	return keys
}

func envName(key string) string {
	if name, ok := envKeys[strings.ToLower(key)]; ok {
		return name
	}

	return strings.ToUpper(key)
}

func propagator() propagation.TextMapPropagator {
	p := otel.GetTextMapPropagator()
	if len(p.Fields()) == 0 {
		return propagation.TraceContext{}
	}

	return p
}

// InjectEnv returns "KEY=value" entries carrying the span context of ctx,
// ready to append to an exec.Cmd environment. Empty when ctx has no span.
func InjectEnv(ctx context.Context) []string {
	carrier := envCarrier{}
	propagator().Inject(ctx, carrier)

	env := make([]string, 0, len(carrier))
	for _, name := range []string{EnvTraceParent, EnvTraceState} {
		if v, ok := carrier[name]; ok && v != "" {
			env = append(env, name+"="+v)
		}
	}

	return env
}

// ExtractEnv returns ctx joined to the trace named by the TRACEPARENT and
// TRACESTATE values that lookup yields (usually os.Getenv).
func ExtractEnv(ctx context.Context, lookup func(string) string) context.Context {
	carrier := envCarrier{}

	for _, name := range []string{EnvTraceParent, EnvTraceState} {
		if v := lookup(name); v != "" {
			carrier[name] = v
		}
	}

	if len(carrier) == 0 {
		return ctx
	}

	return propagator().Extract(ctx, carrier)
}
