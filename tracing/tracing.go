// Package tracing installs the global opentracing tracer, backed by zipkin,
// and wraps http handlers so that incoming b3 headers continue the trace.
package tracing

import (
	"io"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	otnethttp "github.com/opentracing-contrib/go-stdlib/nethttp"
	opentracing "github.com/opentracing/opentracing-go"
	zipkinot "github.com/openzipkin-contrib/zipkin-go-opentracing"
	zipkin "github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"

	"github.com/datatrails/go-datatrails-ledger/environment"
)

const (
	requestID         = "x-request-id"
	otSpanContext     = "x-ot-span-context"
	prefixTracerState = "x-b3-"
	TraceID           = prefixTracerState + "traceid"
	spanID            = prefixTracerState + "spanid"
	parentSpanID      = prefixTracerState + "parentspanid"
	sampled           = prefixTracerState + "sampled"
	flags             = prefixTracerState + "flags"

	ZipkinEndpointVar = "ZIPKIN_ENDPOINT"
	DisableZipkinVar  = "DISABLE_ZIPKIN"
)

var otHeaders = []string{
	requestID,
	otSpanContext,
	prefixTracerState,
	TraceID,
	spanID,
	parentSpanID,
	sampled,
	flags,
}

func HTTPMiddleware(h http.Handler) http.Handler {
	return otnethttp.Middleware(
		opentracing.GlobalTracer(),
		h,
		otnethttp.OperationNameFunc(func(r *http.Request) string {
			return "HTTP " + r.Method + ":" + r.URL.EscapedPath() + " >"
		}),
	)
}

// HeaderMatcher reports whether key is one of the tracing headers x-b3-*
// that must be forwarded with outgoing requests.
func HeaderMatcher(key string) (string, bool) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, tracingKey := range otHeaders {
		if strings.ToLower(key) == tracingKey {
			return key, true
		}
	}
	return "", false
}

// NewFromEnv initialises tracing and returns a closer if tracing is
// configured. If ZIPKIN_ENDPOINT is not set it is Fatal unless
// DISABLE_ZIPKIN is truthy. If tracing is disabled returns nil.
func NewFromEnv(log Logger, service string, host string) io.Closer {
	ze, ok := os.LookupEnv(ZipkinEndpointVar)
	if !ok {
		if disabled := environment.GetTruthyOrFatal(DisableZipkinVar); !disabled {
			log.Panicf(
				"'%s' has not been provided and is not disabled by '%s'",
				ZipkinEndpointVar, DisableZipkinVar)
		}
		log.Infof("zipkin disabled by '%s'", DisableZipkinVar)
		return nil
	}
	// zipkin conf is available, disable it if DISABLE_ZIPKIN is truthy
	if disabled := environment.GetTruthyWithDefault(DisableZipkinVar, false); disabled {
		log.Infof("'%s' set, zipkin disabled", DisableZipkinVar)
		return nil
	}
	return New(log, service, host, ze)
}

// New initialises tracing
// uses zipkin client tracer
func New(log Logger, service string, host string, zipkinEndpoint string) io.Closer {
	// create our local service endpoint
	localEndpoint, err := zipkin.NewEndpoint(service, host)
	if err != nil {
		log.Panicf("unable to create zipkin local endpoint service '%s' - host '%s': %v", service, host, err)
	}

	// set up a span reporter
	reporter := zipkinhttp.NewReporter(zipkinEndpoint, zipkinhttp.Logger(newZipkinLogger()))

	// initialise our tracer
	nativeTracer, err := zipkin.NewTracer(
		reporter,
		zipkin.WithLocalEndpoint(localEndpoint),
		zipkin.WithSharedSpans(false),
	)
	if err != nil {
		log.Panicf("unable to create zipkin tracer: %v", err)
	}

	// use zipkin-go-opentracing to wrap our tracer
	tracer := zipkinot.Wrap(nativeTracer)
	opentracing.SetGlobalTracer(tracer)
	log.Infof("zipkin tracing %s to %s", service, zipkinEndpoint)
	return reporter
}
