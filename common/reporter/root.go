// Package reporter is a façade for reporting duties in flowsift.
//
// Such a façade currently includes logging and metrics.
package reporter

import (
	"flowsift/common/reporter/logger"
	"flowsift/common/reporter/metrics"
)

// Reporter contains the state for a reporter. It also supports the
// same interface as a logger.
type Reporter struct {
	logger.Logger
	metrics *metrics.Metrics
}

// New creates a new reporter from a configuration.
func New(config Configuration) (*Reporter, error) {
	// Initialize logger
	l, err := logger.New(config.Logging)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(l, config.Metrics)
	if err != nil {
		return nil, err
	}

	return &Reporter{
		Logger:  l,
		metrics: m,
	}, nil
}
