package service

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestOriginKey struct{}

// RequestOrigin describes the client that triggered an operation.
type RequestOrigin struct {
	IPAddress string
	UserAgent string
}

// WithRequestOrigin stores the caller's address on the context for audit entries.
func WithRequestOrigin(ctx context.Context, origin RequestOrigin) context.Context {
	return context.WithValue(ctx, requestOriginKey{}, origin)
}

// RequestOriginFrom returns the stored origin, or a system origin for background work.
func RequestOriginFrom(ctx context.Context) RequestOrigin {
	if origin, ok := ctx.Value(requestOriginKey{}).(RequestOrigin); ok {
		return origin
	}
	return RequestOrigin{IPAddress: "system", UserAgent: "request-service"}
}

// writeAudit persists an audit entry for a request form. Failures are logged, never returned.
func writeAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, userID, action string, formID int64, oldValues, newValues interface{}) {
	if audit == nil {
		return
	}
	origin := RequestOriginFrom(ctx)
	resourceID := strconv.FormatInt(formID, 10)
	entry := &models.AuditLog{
		Action:     action,
		Resource:   models.AuditResourceRequestForm,
		ResourceID: &resourceID,
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
		IPAddress:  origin.IPAddress,
		UserAgent:  origin.UserAgent,
	}
	if userID != "" {
		uid := userID
		entry.UserID = &uid
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", action), zap.Int64("request_id", formID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
