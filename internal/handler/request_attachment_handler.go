package handler

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/service"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/response"
)

type requestAttachmentService interface {
	Attach(ctx context.Context, formID int64, upload service.AttachmentUpload, actor models.Actor) (*models.Attachment, error)
	Detach(ctx context.Context, formID, attachmentID int64, actor models.Actor) error
	Verify(ctx context.Context, formID, attachmentID int64, actor models.Actor) (*models.Attachment, error)
	List(ctx context.Context, formID int64, actor models.Actor) ([]models.Attachment, error)
	DownloadURL(ctx context.Context, formID, attachmentID int64, actor models.Actor) (*service.DownloadLink, error)
	Open(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error)
}

// ListAttachments godoc
// @Summary List the attachments of a request
// @Tags Request Attachments
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/attachments [get]
func (h *RequestHandler) ListAttachments(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.attachments.List(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// UploadAttachment godoc
// @Summary Upload a supporting document
// @Tags Request Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Request ID"
// @Param attachment_type formData string true "Attachment type"
// @Param description formData string false "Description"
// @Param file formData file true "PDF, JPG, PNG, DOC or DOCX"
// @Success 201 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /requests/{id}/attachments [post]
func (h *RequestHandler) UploadAttachment(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"file": "is required"}))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable upload"))
		return
	}
	defer file.Close()

	upload := service.AttachmentUpload{
		AttachmentType: models.AttachmentType(strings.ToUpper(strings.TrimSpace(c.PostForm("attachment_type")))),
		FileName:       header.Filename,
		Size:           header.Size,
		Content:        file,
	}
	if desc := strings.TrimSpace(c.PostForm("description")); desc != "" {
		upload.Description = &desc
	}
	attachment, err := h.attachments.Attach(c.Request.Context(), id, upload, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusCreated, attachment, "Attachment uploaded", "تم رفع المرفق")
}

// DeleteAttachment godoc
// @Summary Remove an attachment
// @Tags Request Attachments
// @Produce json
// @Param id path int true "Request ID"
// @Param attachmentId path int true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/attachments/{attachmentId} [delete]
func (h *RequestHandler) DeleteAttachment(c *gin.Context) {
	formID, attachmentID, ok := attachmentParams(c)
	if !ok {
		return
	}
	if err := h.attachments.Detach(c.Request.Context(), formID, attachmentID, actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, nil, "Attachment deleted", "تم حذف المرفق")
}

// VerifyAttachment godoc
// @Summary Mark an attachment as verified
// @Tags Request Attachments
// @Produce json
// @Param id path int true "Request ID"
// @Param attachmentId path int true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/attachments/{attachmentId}/verify [post]
func (h *RequestHandler) VerifyAttachment(c *gin.Context) {
	formID, attachmentID, ok := attachmentParams(c)
	if !ok {
		return
	}
	attachment, err := h.attachments.Verify(c.Request.Context(), formID, attachmentID, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, attachment, "Attachment verified", "تم التحقق من المرفق")
}

// AttachmentLink godoc
// @Summary Issue a short lived download link
// @Tags Request Attachments
// @Produce json
// @Param id path int true "Request ID"
// @Param attachmentId path int true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/attachments/{attachmentId}/download [get]
func (h *RequestHandler) AttachmentLink(c *gin.Context) {
	formID, attachmentID, ok := attachmentParams(c)
	if !ok {
		return
	}
	link, err := h.attachments.DownloadURL(c.Request.Context(), formID, attachmentID, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadFile godoc
// @Summary Stream an attachment through a signed link
// @Tags Request Attachments
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *RequestHandler) DownloadFile(c *gin.Context) {
	attachment, content, err := h.attachments.Open(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer content.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": attachment.FileName})
	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, attachment.SizeBytes, attachment.ContentType, content, map[string]string{
		"Content-Disposition": disposition,
	})
}

func attachmentParams(c *gin.Context) (int64, int64, bool) {
	formID, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return 0, 0, false
	}
	attachmentID, err := idParam(c, "attachmentId")
	if err != nil {
		response.Error(c, err)
		return 0, 0, false
	}
	return formID, attachmentID, true
}
