package rabbitmq

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublisherOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := &Publisher{exchange: "draftline.events", timeout: 5 * time.Second, logger: slog.Default()}
		for _, opt := range []PublisherOption{} {
			opt(p)
		}
		assert.Equal(t, "draftline.events", p.exchange)
		assert.Equal(t, 5*time.Second, p.timeout)
	})

	t.Run("overrides apply", func(t *testing.T) {
		p := &Publisher{exchange: "draftline.events", timeout: 5 * time.Second, logger: slog.Default()}
		logger := slog.Default().With("component", "events")
		for _, opt := range []PublisherOption{
			WithExchange("cms.events"),
			WithPublishTimeout(time.Second),
			WithLogger(logger),
		} {
			opt(p)
		}
		assert.Equal(t, "cms.events", p.exchange)
		assert.Equal(t, time.Second, p.timeout)
		assert.Equal(t, logger, p.logger)
	})

	t.Run("zero values are ignored", func(t *testing.T) {
		p := &Publisher{exchange: "draftline.events", timeout: 5 * time.Second, logger: slog.Default()}
		for _, opt := range []PublisherOption{
			WithExchange(""),
			WithPublishTimeout(0),
			WithLogger(nil),
		} {
			opt(p)
		}
		assert.Equal(t, "draftline.events", p.exchange)
		assert.Equal(t, 5*time.Second, p.timeout)
		assert.NotNil(t, p.logger)
	})
}
