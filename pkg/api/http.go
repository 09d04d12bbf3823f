// Package api assembles the HTTP surface over the chat directory.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatdb/pkg/api/handlers"
	"chatdb/pkg/directory"
	"chatdb/pkg/monitor"
)

// Handler returns the router for the versioned API. Authentication and
// signature middleware wrap this handler at the app layer.
func Handler(d *directory.ChatDirectory, mon *monitor.Monitor) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	handlers.RegisterChats(v1, d)
	handlers.RegisterMessages(v1, d)
	handlers.RegisterSigning(v1)

	admin := v1.PathPrefix("/admin").Subrouter()
	handlers.RegisterAdmin(admin, d, mon)

	return r
}
