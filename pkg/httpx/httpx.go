// Package httpx carries the tiny transport-neutral handler contract used
// by the chatdb health probes. The service proper speaks net/http; the
// probes exist to compare net/http and fasthttp serving the same handler,
// so the contract is the smallest surface both transports can satisfy.
package httpx

import (
	"context"
	"io"
	"net/http"
)

// Request is the transport-neutral view of an inbound request. Ctx is
// canceled when the underlying transport abandons the request.
type Request struct {
	Ctx        context.Context
	Method     string
	Path       string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
	// Raw is the transport's own request object (*http.Request or
	// *fasthttp.RequestCtx) for handlers that need an escape hatch.
	Raw interface{}
}

// ResponseWriter is the slice of http.ResponseWriter both adapters can
// honor: headers, a status line written once, and a body stream.
type ResponseWriter interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HandlerFunc is a handler written against the neutral contract; the
// adapters bind it to a concrete transport.
type HandlerFunc func(w ResponseWriter, r *Request)
