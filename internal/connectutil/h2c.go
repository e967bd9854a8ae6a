package connectutil

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	maxConcurrentStreams = 250
	maxReadFrameSize     = 1 << 20
)

// H2CHandler serves handler over cleartext HTTP/2 as well as HTTP/1.1, so
// connect, gRPC and plain JSON clients share one port without TLS.
func H2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: maxConcurrentStreams,
		MaxReadFrameSize:     maxReadFrameSize,
	})
}
