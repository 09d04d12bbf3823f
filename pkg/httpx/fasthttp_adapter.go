package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/valyala/fasthttp"
)

// FastHTTPAdapter binds a HandlerFunc to fasthttp. The request body is
// materialized once (fasthttp exposes it as a byte slice, not a stream);
// health probe payloads are empty or tiny so the copy is free in practice.
func FastHTTPAdapter(h HandlerFunc) fasthttp.RequestHandler {
	return func(fctx *fasthttp.RequestCtx) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		hdr := make(http.Header)
		fctx.Request.Header.VisitAll(func(k, v []byte) {
			hdr.Add(string(k), string(v))
		})

		req := &Request{
			Ctx:        ctx,
			Method:     string(fctx.Method()),
			Path:       string(fctx.Path()),
			Header:     hdr,
			Body:       io.NopCloser(bytes.NewReader(fctx.PostBody())),
			RemoteAddr: fctx.RemoteAddr().String(),
			Raw:        fctx,
		}

		rw := &fastHTTPWriter{fctx: fctx, header: make(http.Header)}
		fctx.Response.Header.VisitAll(func(k, v []byte) {
			rw.header.Add(string(k), string(v))
		})

		h(rw, req)
		_ = req.Body.Close()
	}
}

// fastHTTPWriter buffers header mutations until the status line goes out,
// mirroring net/http's write-once header semantics on fasthttp.
type fastHTTPWriter struct {
	fctx   *fasthttp.RequestCtx
	header http.Header
	status int
}

func (f *fastHTTPWriter) Header() http.Header { return f.header }

func (f *fastHTTPWriter) WriteHeader(status int) {
	f.status = status
	for k, vals := range f.header {
		for _, v := range vals {
			f.fctx.Response.Header.Add(k, v)
		}
	}
	f.fctx.SetStatusCode(status)
}

func (f *fastHTTPWriter) Write(b []byte) (int, error) {
	if f.status == 0 {
		f.WriteHeader(http.StatusOK)
	}
	return f.fctx.Write(b)
}
