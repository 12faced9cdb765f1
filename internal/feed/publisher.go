package feed

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// conn is the part of *nats.Conn the feed uses.
type conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
	Close()
}

// Publisher mirrors normalized samples onto NATS.
type Publisher struct {
	nc     conn
	prefix string
	log    *zap.SugaredLogger
}

// NewPublisher connects to the NATS server of cfg.
func NewPublisher(cfg config.FeedConfig, log *zap.SugaredLogger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("wfs-manager"))
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Publish sends one sample on <prefix>.<nodeId>.
func (p *Publisher) Publish(rec model.SampleRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, rec.NodeID), data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warnf("Failed to drain NATS connection: %v", err)
		p.nc.Close()
		return
	}
	p.log.Info("NATS connection drained and closed")
}
