package handlers

import (
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/uploads"
	"github.com/4xmen/chatroom/internal/views"
)

// multipartOverhead is headroom for the multipart envelope around the file.
const multipartOverhead = 1 << 20

// UploadFile stores the multipart "file" field and appends a file message.
func (h *MessageHandler) UploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.sink.MaxSize()+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.sink.MaxSize() {
		respondError(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	ctx := c.Request.Context()
	username := c.GetString("username")

	stored, err := h.sink.Store(ctx, header.Filename, file)
	if err != nil {
		h.logger.Info("upload rejected", zap.String("username", username), zap.String("file_name", header.Filename), zap.Error(err))
		respondDomainError(c, err, "failed to save file")
		return
	}

	// The bytes land before the message row. A failed append leaves the
	// new file in place with no message referring to it.
	msg, err := h.log.AppendFile(ctx, username, stored)
	if err != nil {
		h.logger.Warn("file stored without a message", zap.String("username", username), zap.String("file_name", stored.Name), zap.Error(err))
		respondDomainError(c, err, "failed to create message")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": views.NewMessage(msg)})
}

// ServeFile streams a stored upload back to an authenticated client.
func (h *MessageHandler) ServeFile(c *gin.Context) {
	name := c.Param("name")

	f, err := h.sink.Open(name)
	if err != nil {
		respondDomainError(c, err, "internal server error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	c.Header("X-Content-Type-Options", "nosniff")
	if !uploads.IsImage(name) {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()})
		if disposition == "" {
			disposition = "attachment"
		}
		c.Header("Content-Disposition", disposition)
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
