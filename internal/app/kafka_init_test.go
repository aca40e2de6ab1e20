package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

func TestInitPublishers_WithoutBrokers(t *testing.T) {
	logger := log.WithField("test", "publishers")

	p := initPublishers(DefaultConfig(), logger)

	assert.IsType(t, &outbox.LogPublisher{}, p.events)
	assert.Nil(t, p.deadLetter)
	assert.Nil(t, p.producer)
	p.close(logger)
}

func TestInitPublishers_UnreachableBrokersFallBackToLog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = "127.0.0.1:1"
	logger := log.WithField("test", "publishers-unreachable")

	p := initPublishers(cfg, logger)
	t.Cleanup(func() { p.close(logger) })

	if p.producer != nil {
		t.Skip("a kafka broker unexpectedly answered on 127.0.0.1:1")
	}
	assert.IsType(t, &outbox.LogPublisher{}, p.events)
}
