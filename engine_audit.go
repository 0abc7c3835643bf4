package patAuth

import (
	"context"

	"github.com/MrEthical07/patAuth/internal/audit"
)

type auditRecord struct {
	eventType string
	success   bool
	userID    string
	pat       string
	client    ClientContext
	err       error
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.NewEvent(rec.eventType, e.now())
	event.Success = rec.success
	event.UserID = rec.userID
	event.PAT = rec.pat
	event.IP = rec.client.IP
	event.Device = rec.client.Device
	event.Reason = reasonCode(rec.err)
	event.Metadata = metadata

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, route, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditRecord{eventType: EventRateLimitTriggered, client: ClientContextFrom(ctx), err: ErrRateLimited}, func() map[string]string {
		return map[string]string{
			"route":   route,
			"subject": subject,
		}
	})
}
