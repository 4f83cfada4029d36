// Package adapters imports all built-in adapters for auto-registration.
// Import this package to have every adapter implementation registered with
// the default registry.
package adapters

import (
	// Import side-effect registering adapters.
	_ "github.com/drblury/hexroute/adapter/channel"
	_ "github.com/drblury/hexroute/adapter/http"
	_ "github.com/drblury/hexroute/adapter/kafka"

	"github.com/drblury/hexroute/adapter/nats"
	"github.com/drblury/hexroute/adapter/rabbitmq"
)

func init() {
	nats.Register()
	rabbitmq.Register()
}
