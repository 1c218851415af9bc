package feed

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/config"
	"github.com/saviobatista/modes-feed/internal/connector"
)

// NewConnector creates the connector described by a receiver configuration
func NewConnector(r config.ReceiverConfig, logger logrus.FieldLogger) (*connector.Connector, error) {
	opts := connector.Options{
		Name:               r.Name,
		Logger:             logger,
		StaleTimeout:       r.StaleTimeout,
		IsSingleConnection: r.SingleConnection,
	}
	if r.Passphrase != "" {
		opts.Authentication = connector.PassphraseAuthentication{Passphrase: r.Passphrase}
	}

	switch r.Connection {
	case config.ConnectionActive:
		return connector.NewActive(connector.TCPDialer(r.Address, r.DialTimeout), opts), nil
	case config.ConnectionPassive:
		return connector.NewPassive(connector.TCPListener(r.Address), opts), nil
	case config.ConnectionSerial:
		return connector.NewActive(connector.SerialDialer(connector.SerialConfig{
			Port: r.SerialPort,
			Baud: r.Baud,
		}), opts), nil
	default:
		return nil, fmt.Errorf("unknown connection %q", r.Connection)
	}
}
