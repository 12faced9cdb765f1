package feed

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SampleHandler processes one received sample.
type SampleHandler func(rec model.SampleRecord)

// Subscriber receives samples mirrored by a Publisher.
type Subscriber struct {
	nc     conn
	sub    *nats.Subscription
	prefix string
	log    *zap.SugaredLogger
}

// NewSubscriber connects to the NATS server of cfg.
func NewSubscriber(cfg config.FeedConfig, log *zap.SugaredLogger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Start delivers the samples of nodeID, or of every node when nodeID is
// empty, to handler.
func (s *Subscriber) Start(nodeID string, handler SampleHandler) error {
	subject := Filter(s.prefix, nodeID)
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		rec, err := Decode(msg.Data)
		if err != nil {
			s.log.Warnf("Dropping message on %s: %v", msg.Subject, err)
			return
		}
		handler(rec)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Infof("Subscribed to '%s'", subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.Debugf("Unsubscribe failed: %v", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
