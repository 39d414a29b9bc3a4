// Package transports imports all built-in transports for auto-registration.
// Import this package to have every wire shape registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/botflow/transport/httpclient"
	_ "github.com/drblury/botflow/transport/httpserver"
	_ "github.com/drblury/botflow/transport/wsclient"
	_ "github.com/drblury/botflow/transport/wsserver"
)
