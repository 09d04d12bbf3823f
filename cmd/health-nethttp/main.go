// Health probe POC on net/http, counterpart to the fasthttp variant.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"chatdb/pkg/httpx"
)

func main() {
	addr := flag.String("addr", ":8082", "listen address for net/http health POC")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	h := func(w httpx.ResponseWriter, r *httpx.Request) {
		switch r.Path {
		case "/health", "/healthz":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      httpx.NetHTTPAdapter(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	fmt.Printf("net/http health POC listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("net/http server exit: %v\n", err)
	}
}
