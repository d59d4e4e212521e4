// Package tracing provides OpenTelemetry tracing options.
package tracing

import (
	"fmt"

	"github.com/kart-io/compliance-rag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// ExporterType defines the type of exporter to use.
type ExporterType string

const (
	// ExporterOTLPHTTP exports spans via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp_http"
	// ExporterStdout exports spans to stdout (for development).
	ExporterStdout ExporterType = "stdout"
)

// Options defines configuration for OpenTelemetry tracing.
type Options struct {
	// Enabled enables or disables tracing.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// ServiceName is the name of the service.
	ServiceName string `json:"service-name" mapstructure:"service-name"`

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType `json:"exporter-type" mapstructure:"exporter-type"`

	// Endpoint is the OTLP/HTTP endpoint, e.g. "localhost:4318".
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `json:"insecure" mapstructure:"insecure"`

	// SamplerRatio is the sampling ratio (0.0 to 1.0).
	SamplerRatio float64 `json:"sampler-ratio" mapstructure:"sampler-ratio"`
}

// NewOptions creates tracing options with defaults (disabled).
func NewOptions() *Options {
	return &Options{
		Enabled:      false,
		ServiceName:  "compliance-rag",
		ExporterType: ExporterStdout,
		Endpoint:     "localhost:4318",
		Insecure:     true,
		SamplerRatio: 1.0,
	}
}

// AddFlags adds flags for tracing options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.BoolVar(&o.Enabled, p+"tracing.enabled", o.Enabled, "Enable OpenTelemetry tracing.")
	fs.StringVar(&o.ServiceName, p+"tracing.service-name", o.ServiceName, "Service name reported in spans.")
	fs.StringVar((*string)(&o.ExporterType), p+"tracing.exporter-type", string(o.ExporterType), "Span exporter (otlp_http|stdout).")
	fs.StringVar(&o.Endpoint, p+"tracing.endpoint", o.Endpoint, "OTLP/HTTP endpoint.")
	fs.BoolVar(&o.Insecure, p+"tracing.insecure", o.Insecure, "Disable TLS for the OTLP exporter.")
	fs.Float64Var(&o.SamplerRatio, p+"tracing.sampler-ratio", o.SamplerRatio, "Trace sampling ratio.")
}

// Validate validates the tracing options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	switch o.ExporterType {
	case ExporterOTLPHTTP:
		if o.Endpoint == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint is required for otlp_http"))
		}
	case ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing.exporter-type %q", o.ExporterType))
	}
	if o.SamplerRatio < 0 || o.SamplerRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampler-ratio must be within [0, 1]"))
	}
	return errs
}
