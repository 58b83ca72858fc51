package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"

	"codeblue/internal/domain"
	"codeblue/internal/events"
	"codeblue/internal/metrics"
	"codeblue/internal/repo"
)

// deliveryFailures are the carrier delivery outcomes treated as "the call
// never reached the recipient", equivalent to a gather timeout.
var deliveryFailures = map[string]bool{
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// StatusForDigit maps an IVR key press to the status it requests.
func StatusForDigit(digit string) string {
	switch digit {
	case "1":
		return domain.StatusAccepted
	case "2":
		return domain.StatusDeclined
	default:
		return domain.StatusInvalid
	}
}

// ApplyDigit folds an IVR key-press event into the incident record.
func (e Engine) ApplyDigit(ctx context.Context, incidentID, dispatchRef, digit string) error {
	return e.applyByRef(ctx, incidentID, dispatchRef, StatusForDigit(digit), events.EventPayload{
		"source": "ivr",
		"digit":  digit,
	})
}

// ApplyNoAnswer folds a gather-timeout event into the incident record. The
// entry keeps its current tier; the status notes that this tier went
// unanswered.
func (e Engine) ApplyNoAnswer(ctx context.Context, incidentID, dispatchRef string) error {
	return e.applyByRef(ctx, incidentID, dispatchRef, domain.StatusNoResponse, events.EventPayload{
		"source": "timeout",
	})
}

// ApplyDeliveryStatus folds a carrier delivery-status callback into the
// incident record. Failure outcomes behave exactly like a no-answer; anything
// else (ringing, completed, ...) is ignored.
func (e Engine) ApplyDeliveryStatus(ctx context.Context, incidentID, dispatchRef, outcome string) error {
	if !deliveryFailures[outcome] {
		logrus.Debugf("delivery status %q for %s ignored", outcome, dispatchRef)
		return nil
	}
	return e.applyByRef(ctx, incidentID, dispatchRef, domain.StatusNoResponse, events.EventPayload{
		"source":  "delivery_status",
		"outcome": outcome,
	})
}

// ApplyReply folds a secondary-channel reply into the incident record. The
// secondary channel has no dispatch-ref correlation, so the entry is resolved
// by contact; this works even when every dispatch for the contact failed.
func (e Engine) ApplyReply(ctx context.Context, incidentID, contact string, accept bool) error {
	status := domain.StatusDeclined
	if accept {
		status = domain.StatusAccepted
	}
	inc, err := e.resolveIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	applied := false
	_, err = e.Repo.UpdateIncident(ctx, inc.ID, func(tx *sql.Tx, cur *domain.Incident) (bool, error) {
		applied = false
		entry := cur.FindByPhone(contact)
		if entry == nil {
			logrus.Warnf("reply from %s matches no entry of incident %s", contact, cur.ID)
			return false, nil
		}
		if entry.Terminal() {
			return false, nil
		}
		entry.Status = status
		if err := e.Events.Append(ctx, tx, "response."+status, cur.ID, contact, events.EventPayload{
			"source": "reply",
		}); err != nil {
			return false, err
		}
		applied = true
		return true, nil
	})
	return e.finishApply(status, applied, err)
}

// applyByRef performs the shared status-update operation for dispatch-ref
// correlated events: locate the entry, no-op when it is terminal or the ref
// is stale (a later tier already replaced it), otherwise replace its status
// inside the transactional read-modify-write.
func (e Engine) applyByRef(ctx context.Context, incidentID, dispatchRef, status string, payload events.EventPayload) error {
	inc, err := e.resolveIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	applied := false
	_, err = e.Repo.UpdateIncident(ctx, inc.ID, func(tx *sql.Tx, cur *domain.Incident) (bool, error) {
		applied = false
		entry := cur.FindByRef(dispatchRef)
		if entry == nil {
			// Stale or unknown ref: a known race this design accepts.
			logrus.Warnf("dispatch ref %s matches no entry of incident %s", dispatchRef, cur.ID)
			return false, nil
		}
		if entry.Terminal() {
			return false, nil
		}
		if status == domain.StatusNoResponse {
			payload["tier"] = entry.AttemptTier
		}
		entry.Status = status
		if err := e.Events.Append(ctx, tx, "response."+status, cur.ID, entry.Phone, payload); err != nil {
			return false, err
		}
		applied = true
		return true, nil
	})
	return e.finishApply(status, applied, err)
}

func (e Engine) finishApply(status string, applied bool, err error) error {
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			metrics.UpdateConflict()
		}
		return err
	}
	if applied {
		metrics.ResponseApplied(status)
	}
	return nil
}
