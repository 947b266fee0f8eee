package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// MsgPublisher is the part of *nats.Conn the publisher needs
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher publishes threats as JSON on "<subject>.<risk level>"
type NATSPublisher struct {
	conn    MsgPublisher
	subject string
	encoder *zstd.Encoder
	logger  *logrus.Logger
}

// ConnectNATS dials the server and keeps reconnecting for the life of the process
func ConnectNATS(url string, logger *logrus.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("threat-advisor"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func NewNATSPublisher(conn MsgPublisher, cfg utils.NATSConfig, logger *logrus.Logger) (*NATSPublisher, error) {
	p := &NATSPublisher{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}
	if cfg.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		p.encoder = enc
	}
	return p, nil
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

func (p *NATSPublisher) SendAlert(threat model.Threat) error {
	data, err := json.Marshal(threat)
	if err != nil {
		return fmt.Errorf("failed to marshal threat: %w", err)
	}

	msg := nats.NewMsg(p.subject + "." + strings.ToLower(string(threat.RiskLevel)))
	msg.Header.Set("Threat-Id", threat.ID)
	msg.Header.Set("Rule-Id", threat.RuleMatched)
	msg.Header.Set("Risk-Level", string(threat.RiskLevel))
	msg.Header.Set("Content-Type", "application/json")

	if p.encoder != nil {
		msg.Data = p.encoder.EncodeAll(data, nil)
		msg.Header.Set("Content-Encoding", "zstd")
	} else {
		msg.Data = data
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published threat %s to %s", threat.ID, msg.Subject)
	return nil
}
