//go:build !darwin

package applegpu

import (
	"context"
	"log/slog"
	"time"

	"github.com/statlab/gpustats/internal/metrics"
)

// Sampler is only functional on darwin.
type Sampler struct{}

func New(logger *slog.Logger, window time.Duration) (*Sampler, error) {
	return nil, ErrUnsupported
}

func (s *Sampler) Sample(ctx context.Context) (*metrics.Sample, error) {
	return nil, ErrUnsupported
}

func (s *Sampler) Soc() SocInfo {
	return SocInfo{}
}

func (s *Sampler) Close() error {
	return nil
}
