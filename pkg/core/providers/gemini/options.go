package gemini

import "log/slog"

// Option configures the Connector.
type Option func(*Connector)

// WithModel sets the live model. Default: gemini-2.0-flash-live-001
func WithModel(model string) Option {
	return func(c *Connector) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Connector) {
		c.baseURL = url
	}
}

// WithOutputSampleRate sets the rate assumed for model audio whose MIME type
// carries no rate parameter. Default: 24000
func WithOutputSampleRate(hz int) Option {
	return func(c *Connector) {
		if hz > 0 {
			c.outputRateHz = hz
		}
	}
}

// WithLogger sets the logger used for dropped or unexpected server messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}
