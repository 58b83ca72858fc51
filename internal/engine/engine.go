package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codeblue/internal/config"
	"codeblue/internal/domain"
	"codeblue/internal/events"
	"codeblue/internal/metrics"
	"codeblue/internal/notify"
	"codeblue/internal/repo"
)

// Engine drives the escalation timeline for an incident and folds inbound
// response events into the stored incident record. All incident mutations go
// through repo.UpdateIncident; no in-memory incident state is authoritative.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier notify.Notifier
	Tokens   notify.TokenSigner
	Config   *config.Config
	Now      func() time.Time

	// Wait overrides the timeline sleeps in tests.
	Wait func(ctx context.Context, d time.Duration) error
}

func New(db *sql.DB, cfg *config.Config, n notify.Notifier) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notifier: n,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) wait(ctx context.Context, d time.Duration) error {
	if e.Wait != nil {
		return e.Wait(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StartEscalation creates an incident covering the current roster, dispatches
// the tier-1 calls, and schedules the remaining timeline on a detached
// goroutine. It returns once tier 1 is dispatched, not when the timeline ends.
func (e Engine) StartEscalation(ctx context.Context) (string, error) {
	members, err := e.Repo.ListMembers(ctx)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", errors.New("roster is empty; add members before starting a hotline")
	}

	inc := domain.Incident{
		ID:        uuid.NewString(),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	phones := make([]string, 0, len(members))
	for _, m := range members {
		phones = append(phones, m.Phone)
		inc.Entries = append(inc.Entries, domain.Entry{
			Phone:       m.Phone,
			Status:      domain.StatusInitiated,
			AttemptTier: 1,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := e.Repo.CreateIncidentTx(ctx, tx, inc); err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, tx, "incident.created", inc.ID, "", events.EventPayload{"recipients": len(phones)}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	e.dispatchCalls(ctx, inc.ID, 1, phones)
	go e.runTimeline(context.WithoutCancel(ctx), inc.ID)
	return inc.ID, nil
}

// runTimeline walks the remaining tiers of one incident: wait, re-read the
// stored record, re-dispatch whoever is still non-terminal. Re-reading at
// every deadline matters because response handlers mutate entries throughout
// the wait windows. Once every entry is terminal the timeline skips straight
// to the report.
func (e Engine) runTimeline(ctx context.Context, incidentID string) {
	log := logrus.WithField("incident", incidentID)
	tier := 1
	settled := false
	for _, w := range e.Config.RetryWaits() {
		if err := e.wait(ctx, w); err != nil {
			log.Warnf("tier wait interrupted: %v", err)
		}
		tier++
		inc, err := e.Repo.GetIncident(ctx, incidentID)
		if err != nil {
			log.Errorf("read incident: %v", err)
			return
		}
		pending := inc.Pending()
		if len(pending) == 0 {
			settled = true
			break
		}
		log.Infof("tier %d: re-dispatching %d call(s)", tier, len(pending))
		e.dispatchCalls(ctx, incidentID, tier, pending)
	}
	if !settled {
		if err := e.wait(ctx, e.Config.MessageWait()); err != nil {
			log.Warnf("message wait interrupted: %v", err)
		}
		inc, err := e.Repo.GetIncident(ctx, incidentID)
		if err != nil {
			log.Errorf("read incident: %v", err)
			return
		}
		if pending := inc.Pending(); len(pending) > 0 {
			log.Infof("secondary channel: messaging %d recipient(s)", len(pending))
			e.dispatchMessages(ctx, incidentID, pending)
		}
		if err := e.wait(ctx, e.Config.ReportWait()); err != nil {
			log.Warnf("report wait interrupted: %v", err)
		}
	}
	if err := e.DeliverReport(ctx, incidentID); err != nil {
		log.Errorf("deliver report: %v", err)
	}
}

type dispatchResult struct {
	phone string
	ref   string
	err   error
}

// dispatchCalls places one voice call per contact concurrently, then applies
// the collected refs as a single transactional update: status, tier, and
// dispatch ref change for exactly the dispatched contacts. One contact's
// carrier error never aborts the batch; that entry is marked failed and the
// next tier's re-dispatch is its retry.
func (e Engine) dispatchCalls(ctx context.Context, incidentID string, tier int, phones []string) {
	token, err := e.Tokens.Sign(incidentID)
	if err != nil {
		logrus.Errorf("sign callback token: %v", err)
		token = ""
	}
	opts := notify.CallOptions{
		Prompt:      e.Config.Hotline.Prompt,
		Voice:       e.Config.Hotline.Voice,
		DigitURL:    e.callbackURL("/callbacks/response", token),
		NoAnswerURL: e.callbackURL("/callbacks/noanswer", token),
		StatusURL:   e.callbackURL("/callbacks/status", token),
	}

	results := make([]dispatchResult, len(phones))
	var wg sync.WaitGroup
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			ref, err := e.Notifier.PlaceCall(ctx, phone, opts)
			results[i] = dispatchResult{phone: phone, ref: ref, err: err}
		}(i, phone)
	}
	wg.Wait()

	applied := make(map[string]bool, len(results))
	_, err = e.Repo.UpdateIncident(ctx, incidentID, func(tx *sql.Tx, inc *domain.Incident) (bool, error) {
		changed := false
		clear(applied)
		for _, r := range results {
			entry := inc.FindByPhone(r.phone)
			if entry == nil || entry.Terminal() {
				// Responded between the deadline read and now; leave it be.
				continue
			}
			entry.AttemptTier = tier
			if r.err != nil {
				entry.Status = domain.StatusFailed
				entry.DispatchRef = nil
				if err := e.Events.Append(ctx, tx, "call.failed", incidentID, r.phone, events.EventPayload{
					"tier": tier, "error": r.err.Error(),
				}); err != nil {
					return false, err
				}
			} else {
				ref := r.ref
				entry.Status = domain.StatusInProgress
				entry.DispatchRef = &ref
				if err := e.Events.Append(ctx, tx, "call.dispatched", incidentID, r.phone, events.EventPayload{
					"tier": tier, "dispatch_ref": ref,
				}); err != nil {
					return false, err
				}
			}
			applied[r.phone] = true
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			metrics.UpdateConflict()
		}
		logrus.WithField("incident", incidentID).Errorf("record tier %d dispatch: %v", tier, err)
		return
	}
	for _, r := range results {
		if !applied[r.phone] {
			continue
		}
		if r.err != nil {
			metrics.DispatchFailed()
			logrus.WithField("incident", incidentID).Warnf("call to %s failed: %v", r.phone, r.err)
		} else {
			metrics.CallDispatched(tier)
		}
	}
}

// dispatchMessages sends the secondary-channel template to each pending
// contact. Messages carry no dispatch ref (replies correlate by contact) and
// are not retried; entries keep their tier and status unless the send fails.
func (e Engine) dispatchMessages(ctx context.Context, incidentID string, phones []string) {
	var failed []dispatchResult
	for _, phone := range phones {
		msg := notify.Message{
			TemplateSID: e.Config.Telephony.MessageTemplateSID,
			Body:        e.Config.Hotline.Prompt,
		}
		ref, err := e.Notifier.SendMessage(ctx, messagingAddress(phone), msg)
		if err != nil {
			failed = append(failed, dispatchResult{phone: phone, err: err})
			logrus.WithField("incident", incidentID).Warnf("message to %s failed: %v", phone, err)
			continue
		}
		metrics.MessageSent()
		e.appendEvent(ctx, "message.sent", incidentID, phone, events.EventPayload{"message_ref": ref})
	}
	if len(failed) == 0 {
		return
	}
	_, err := e.Repo.UpdateIncident(ctx, incidentID, func(tx *sql.Tx, inc *domain.Incident) (bool, error) {
		changed := false
		for _, f := range failed {
			entry := inc.FindByPhone(f.phone)
			if entry == nil || entry.Terminal() {
				continue
			}
			entry.Status = domain.StatusFailed
			if err := e.Events.Append(ctx, tx, "message.failed", incidentID, f.phone, events.EventPayload{
				"error": f.err.Error(),
			}); err != nil {
				return false, err
			}
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			metrics.UpdateConflict()
		}
		logrus.WithField("incident", incidentID).Errorf("record message failures: %v", err)
	}
}

func (e Engine) callbackURL(path, token string) string {
	base := strings.TrimRight(e.Config.Callbacks.BaseURL, "/")
	if token == "" {
		return base + path
	}
	return base + path + "?token=" + url.QueryEscape(token)
}

func messagingAddress(phone string) string {
	if strings.Contains(phone, ":") {
		return phone
	}
	return "whatsapp:" + phone
}

// appendEvent writes a standalone audit event in its own transaction, for
// occurrences that do not ride an incident update.
func (e Engine) appendEvent(ctx context.Context, evtType, incidentID, contact string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		logrus.Errorf("append %s event: %v", evtType, err)
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, incidentID, contact, payload); err != nil {
		logrus.Errorf("append %s event: %v", evtType, err)
		return
	}
	if err := tx.Commit(); err != nil {
		logrus.Errorf("append %s event: %v", evtType, err)
	}
}

// resolveIncident returns the addressed incident, or the latest one when the
// inbound event carries no incident id.
func (e Engine) resolveIncident(ctx context.Context, incidentID string) (domain.Incident, error) {
	if incidentID != "" {
		return e.Repo.GetIncident(ctx, incidentID)
	}
	inc, err := e.Repo.LatestIncident(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return inc, fmt.Errorf("no incident in flight: %w", err)
	}
	return inc, err
}
