// Package transports registers every built-in mesh transport with the
// default registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/eventmesh/transport/aws"
	_ "github.com/drblury/eventmesh/transport/channel"
	_ "github.com/drblury/eventmesh/transport/http"
	_ "github.com/drblury/eventmesh/transport/kafka"
	_ "github.com/drblury/eventmesh/transport/nats"
	_ "github.com/drblury/eventmesh/transport/rabbitmq"
)
