package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-rep/internal/ledger"
	"agent-rep/internal/storage"
)

var errNoArchive = errors.New("score history requires the event archive")

// statusOf maps a ledger error kind to an HTTP status.
func statusOf(kind string) int {
	switch kind {
	case "unauthorized":
		return http.StatusForbidden
	case "agent_not_found":
		return http.StatusNotFound
	case "agent_already_exists", "stale_action_index", "agent_not_active", "cooldown_not_complete":
		return http.StatusConflict
	case "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// fail writes err as a JSON error body with the matching status.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "invalid_input"})
		return
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
		return
	case errors.Is(err, errNoArchive):
		c.JSON(http.StatusNotImplemented, errorBody{Error: err.Error(), Kind: "archive_disabled"})
		return
	}
	kind := ledger.ErrorKind(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		c.Error(err)
		c.JSON(status, errorBody{Error: "internal error", Kind: kind})
		return
	}
	c.JSON(status, errorBody{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "bad_request"})
}
