package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	MessageAr  string            `json:"messageAr,omitempty"`
	Status     int               `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	ResourceID *int64            `json:"resourceId,omitempty"`
	Err        error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned errors still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// NewBilingual creates an Error carrying both English and Arabic messages.
func NewBilingual(code string, status int, message, messageAr string) *Error {
	return &Error{Code: code, Status: status, Message: message, MessageAr: messageAr}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound              = NewBilingual("NOT_FOUND", http.StatusNotFound, "resource not found", "المورد غير موجود")
	ErrForbidden             = NewBilingual("FORBIDDEN", http.StatusForbidden, "forbidden", "غير مسموح")
	ErrUnauthorized          = NewBilingual("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized", "غير مصرح")
	ErrValidation            = NewBilingual("VALIDATION_ERROR", http.StatusBadRequest, "validation failed", "البيانات المدخلة غير صحيحة")
	ErrInternal              = NewBilingual("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error", "حدث خطأ داخلي")
	ErrCacheMiss             = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrUnknownRequestType    = NewBilingual("UNKNOWN_REQUEST_TYPE", http.StatusBadRequest, "unknown request type", "نوع الطلب غير موجود")
	ErrWorkflowRejected      = NewBilingual("WORKFLOW_REJECTED", http.StatusBadRequest, "workflow transition not allowed", "لا يمكن تنفيذ هذا الإجراء على الطلب")
	ErrUnsupportedFileType   = NewBilingual("UNSUPPORTED_FILE_TYPE", http.StatusUnsupportedMediaType, "invalid file type, allowed: PDF, JPG, PNG, DOC, DOCX", "نوع الملف غير مسموح. الأنواع المسموحة: PDF, JPG, PNG, DOC, DOCX")
	ErrConcurrentUpdate      = NewBilingual("CONCURRENT_MODIFICATION", http.StatusConflict, "request was modified concurrently, reload and retry", "تم تعديل الطلب من جهة أخرى، يرجى إعادة المحاولة")
	ErrRequestNotEditable    = NewBilingual("REQUEST_NOT_EDITABLE", http.StatusBadRequest, "request cannot be modified after submission", "لا يمكن تعديل الطلب بعد تقديمه")
	ErrAttachmentsLocked     = NewBilingual("ATTACHMENTS_LOCKED", http.StatusBadRequest, "attachments cannot change once the request is closed", "لا يمكن تعديل المرفقات بعد إغلاق الطلب")
	ErrLineItemNotDecidable  = NewBilingual("LINE_ITEM_NOT_DECIDABLE", http.StatusBadRequest, "line items can only be decided while the request is under review or approved", "لا يمكن البت في هذا البند في حالة الطلب الحالية")
	ErrInvalidDecisionStatus = NewBilingual("INVALID_DECISION", http.StatusBadRequest, "decision must be APPROVED or REJECTED", "القرار يجب أن يكون موافقة أو رفض")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// CloneBilingual returns a copy overriding both message languages.
func CloneBilingual(err *Error, message, messageAr string) *Error {
	clone := Clone(err, message)
	if clone != nil && messageAr != "" {
		clone.MessageAr = messageAr
	}
	return clone
}

// WithFields returns a validation style copy listing per-field problems.
func WithFields(err *Error, fields map[string]string) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	if len(fields) > 0 {
		clone.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			clone.Fields[k] = v
		}
	}
	return clone
}

// WithResourceID returns a copy of err pointing at a record the failed call left behind.
func WithResourceID(err error, id int64) *Error {
	clone := Clone(FromError(err), "")
	if clone != nil {
		clone.ResourceID = &id
	}
	return clone
}

// WithReason returns a copy tagged with a machine readable reason and bilingual messages.
func WithReason(err *Error, reason, message, messageAr string) *Error {
	clone := CloneBilingual(err, message, messageAr)
	if clone != nil {
		clone.Reason = reason
	}
	return clone
}
