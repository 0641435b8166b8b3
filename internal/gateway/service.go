// Package gateway is the orchestration layer between the HTTP surface and the
// backends. It resolves a backend for each request, projects the request onto
// that backend's options, enforces voice visibility through the metadata
// manager and maps every failure onto the [Error] taxonomy.
//
// A [Service] holds no per-request state and is safe for concurrent use.
package gateway

import (
	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/internal/registry"
	"github.com/MrWong99/ttsgateway/internal/voicemeta"
)

// DefaultMaxUploadSize is the largest accepted reference clip.
const DefaultMaxUploadSize = 10 << 20

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxUploadSize sets the upload size limit in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// Service composes the registry, the voice metadata manager and telemetry.
type Service struct {
	registry  *registry.Registry
	meta      *voicemeta.Manager
	metrics   *observe.Metrics
	maxUpload int64
}

// New returns a Service routing over reg and gating voices through meta.
func New(reg *registry.Registry, meta *voicemeta.Manager, opts ...Option) *Service {
	s := &Service{
		registry:  reg,
		meta:      meta,
		maxUpload: DefaultMaxUploadSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Registry returns the backend registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// MaxUploadSize returns the upload size limit in bytes.
func (s *Service) MaxUploadSize() int64 { return s.maxUpload }
