package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/pkg/i18n"
)

// respondError writes {"error": message}, translated for Persian clients.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": i18n.Localize(c.GetHeader("Accept-Language"), message)})
}

// abortError is respondError for middleware.
func abortError(c *gin.Context, status int, message string) {
	respondError(c, status, message)
	c.Abort()
}

// respondDomainError maps a component error onto an HTTP status. Errors that
// are not a known sentinel are reported as fallback with a 500 and the
// cause is attached to the gin context for the server error logger.
func respondDomainError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, detail(err, errs.ErrInvalidInput))
	case errors.Is(err, errs.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, errs.ErrInvalidCredentials.Error())
	case errors.Is(err, errs.ErrSessionNotFound):
		respondError(c, http.StatusUnauthorized, errs.ErrSessionNotFound.Error())
	case errors.Is(err, errs.ErrForbidden):
		respondError(c, http.StatusForbidden, detail(err, errs.ErrForbidden))
	case errors.Is(err, errs.ErrNotFound):
		respondError(c, http.StatusNotFound, errs.ErrNotFound.Error())
	case errors.Is(err, errs.ErrDuplicateUser):
		respondError(c, http.StatusConflict, errs.ErrDuplicateUser.Error())
	case errors.Is(err, errs.ErrFileTooLarge):
		respondError(c, http.StatusRequestEntityTooLarge, errs.ErrFileTooLarge.Error())
	case errors.Is(err, errs.ErrUnsupportedFileType):
		respondError(c, http.StatusUnsupportedMediaType, errs.ErrUnsupportedFileType.Error())
	case errors.Is(err, errs.ErrInvalidFilename):
		respondError(c, http.StatusBadRequest, errs.ErrInvalidFilename.Error())
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// detail strips the "<sentinel>: " prefix so clients see only the reason.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
