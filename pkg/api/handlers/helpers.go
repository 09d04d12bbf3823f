package handlers

import (
	"errors"
	"net/http"

	"chatdb/pkg/cerr"
	"chatdb/pkg/utils"
)

// writeErr maps directory errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cerr.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cerr.ErrUnauthorized):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, cerr.ErrConflict):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cerr.ErrValidation):
		utils.JSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// isAdmin checks if the request carries an admin or backend role.
func isAdmin(r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	return role == "admin" || role == "backend"
}
