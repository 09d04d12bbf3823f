// Health probe POC on fasthttp, used to measure transport overhead
// against the net/http variant. Both serve the same httpx handler.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"chatdb/pkg/httpx"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for fasthttp health POC")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	h := func(w httpx.ResponseWriter, r *httpx.Request) {
		switch r.Path {
		case "/health", "/healthz":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fasthttp.StatusOK)
			_, _ = w.Write([]byte(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver)))
		default:
			w.WriteHeader(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("fasthttp health POC listening on %s\n", *addr)
	srv := &fasthttp.Server{
		Handler:            httpx.FastHTTPAdapter(h),
		Name:               "chatdb-fasthttp-poc",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
