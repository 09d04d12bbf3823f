package httpx

import "net/http"

// NetHTTPAdapter binds a HandlerFunc to net/http.
func NetHTTPAdapter(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Ctx:        r.Context(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header.Clone(),
			Body:       r.Body,
			RemoteAddr: r.RemoteAddr,
			Raw:        r,
		}
		rw := &netHTTPWriter{w: w, header: w.Header().Clone()}
		h(rw, req)
		if req.Body != nil {
			_ = req.Body.Close()
		}
	})
}

// netHTTPWriter buffers header mutations until the status line goes out,
// matching the fasthttp adapter so handlers behave the same on both.
type netHTTPWriter struct {
	w      http.ResponseWriter
	header http.Header
	status int
}

func (n *netHTTPWriter) Header() http.Header { return n.header }

func (n *netHTTPWriter) WriteHeader(status int) {
	n.status = status
	dst := n.w.Header()
	for k, vals := range n.header {
		dst[k] = append([]string(nil), vals...)
	}
	n.w.WriteHeader(status)
}

func (n *netHTTPWriter) Write(b []byte) (int, error) {
	if n.status == 0 {
		n.WriteHeader(http.StatusOK)
	}
	return n.w.Write(b)
}
