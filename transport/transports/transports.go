// Package transports imports every built-in transport for registration with
// the default registry.
package transports

import (
	_ "github.com/drblury/interflow/transport/aws"
	_ "github.com/drblury/interflow/transport/channel"
	_ "github.com/drblury/interflow/transport/http"
	_ "github.com/drblury/interflow/transport/kafka"
	_ "github.com/drblury/interflow/transport/nats"
	_ "github.com/drblury/interflow/transport/rabbitmq"
)
