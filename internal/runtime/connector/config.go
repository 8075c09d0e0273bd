package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
	"github.com/drblury/eventmesh/transport"
	_ "github.com/drblury/eventmesh/transport/transports"
)

// FromConfig builds the connector selected by conf.MeshTransport. It
// returns nil for a local-only platform.
func FromConfig(ctx context.Context, conf *config.Config, mesh Mesh, log loggingpkg.ServiceLogger, registerer prometheus.Registerer) (Connector, error) {
	name := strings.ToLower(conf.MeshTransport)
	switch name {
	case "":
		return nil, nil
	case config.ConnectorWebsocket:
		return NewWebsocket(mesh, WebsocketOptions{
			URL:    conf.ConnectorURL,
			APIKey: conf.ConnectorAPIKey,
			Logger: log,
		})
	}

	tr, err := transport.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("connector: build %s transport: %w", name, err)
	}
	return NewWatermill(mesh, tr, WatermillOptions{
		OutboundTopic:  conf.MeshOutboundTopic,
		MaxMessageSize: transport.GetCapabilities(name).MaxMessageSize,
		APIKey:         conf.ConnectorAPIKey,
		Logger:         log,
		Registerer:     registerer,
	})
}
