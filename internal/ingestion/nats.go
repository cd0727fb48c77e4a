package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PricesStream = "FXSWAP_PRICES"
	KeeperStream = "FXSWAP_KEEPER"
	EventsStream = "FXSWAP_EVENTS"

	// EventsSubjectPrefix prefixes outbound settlement events:
	// fxswap.events.<event_type>.
	EventsSubjectPrefix = "fxswap.events"
)

// Inbound message kinds.
const (
	KindPriceUpdate        = "PriceUpdate"
	KindLiquidationRequest = "LiquidationRequest"
)

// SubjectConfig maps a NATS subject to the message kind consumed from it.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the inbound subjects: the oracle price feed and
// keeper liquidation requests.
func DefaultSubjects(priceSubject string) []SubjectConfig {
	return []SubjectConfig{
		{Subject: priceSubject, Kind: KindPriceUpdate, ConsumerName: "fxswap-prices", StreamName: PricesStream},
		{Subject: "fxswap.keeper.liquidate", Kind: KindLiquidationRequest, ConsumerName: "fxswap-keeper", StreamName: KeeperStream},
	}
}

// EnsureStreams creates the JetStream streams if they don't exist. Streams
// use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, priceSubject string, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PricesStream,
			Subjects:  []string{priceSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      KeeperStream,
			Subjects:  []string{"fxswap.keeper.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       EventsStream,
			Subjects:   []string{EventsSubjectPrefix + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("fxswap-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
