package engine

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"codeblue/internal/domain"
	"codeblue/internal/events"
	"codeblue/internal/metrics"
	"codeblue/internal/notify"
)

var reportTpl = template.Must(template.New("report").Parse(
	`{{range $i, $r := .}}{{if $i}}
{{end}}Name: {{$r.Name}}, Status: {{$r.Status}}{{end}}`))

// ReportRow is one rendered line of the final report.
type ReportRow struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Status string `json:"status"`
	Tier   int    `json:"tier"`
}

// DisplayStatus renders an entry status for humans.
func DisplayStatus(e domain.Entry) string {
	switch e.Status {
	case domain.StatusInitiated:
		return "Initiated"
	case domain.StatusInProgress:
		return "In Progress"
	case domain.StatusAccepted:
		return "Accepted"
	case domain.StatusDeclined:
		return "Declined"
	case domain.StatusInvalid:
		return "Invalid"
	case domain.StatusFailed:
		return "Failed"
	case domain.StatusNoResponse:
		return fmt.Sprintf("Not Responded (tier %d)", e.AttemptTier)
	default:
		return e.Status
	}
}

// ReportRows joins the incident's entries with roster display names, falling
// back to "Unknown" for contacts no longer on the roster.
func (e Engine) ReportRows(ctx context.Context, incidentID string) ([]ReportRow, error) {
	inc, err := e.resolveIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	names, err := e.Repo.MemberNames(ctx)
	if err != nil {
		return nil, err
	}
	return reportRows(inc, names), nil
}

// CompileReport renders the textual per-incident summary, one line per entry.
func (e Engine) CompileReport(ctx context.Context, incidentID string) (string, error) {
	rows, err := e.ReportRows(ctx, incidentID)
	if err != nil {
		return "", err
	}
	return renderReport(rows)
}

// DeliverReport compiles the report from the incident's then-current state
// and sends it to the operations contact. The reported_at claim rides the
// versioned incident update, so the report goes out exactly once even if two
// timelines raced here.
func (e Engine) DeliverReport(ctx context.Context, incidentID string) error {
	names, err := e.Repo.MemberNames(ctx)
	if err != nil {
		return err
	}
	inc, err := e.resolveIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	var text string
	_, err = e.Repo.UpdateIncident(ctx, inc.ID, func(tx *sql.Tx, cur *domain.Incident) (bool, error) {
		text = ""
		if cur.ReportedAt != nil {
			return false, nil
		}
		rendered, err := renderReport(reportRows(*cur, names))
		if err != nil {
			return false, err
		}
		text = rendered
		ts := e.now().UTC().Format(time.RFC3339)
		cur.ReportedAt = &ts
		return true, e.Events.Append(ctx, tx, "report.compiled", cur.ID, "", events.EventPayload{
			"entries": len(cur.Entries),
		})
	})
	if err != nil {
		return err
	}
	if text == "" {
		logrus.WithField("incident", inc.ID).Info("report already delivered")
		return nil
	}

	body := "Call Status Report:\n" + text
	ref, err := e.Notifier.SendMessage(ctx, e.Config.Telephony.OpsContact, notify.Message{Body: body})
	if err != nil {
		// The claim stands; a failed delivery is logged, not retried.
		e.appendEvent(ctx, "report.failed", inc.ID, "", events.EventPayload{"error": err.Error()})
		logrus.WithField("incident", inc.ID).Errorf("send report: %v", err)
		return nil
	}
	metrics.ReportSent()
	e.appendEvent(ctx, "report.sent", inc.ID, "", events.EventPayload{"message_ref": ref})
	logrus.WithField("incident", inc.ID).Info("call status report sent")
	return nil
}

func reportRows(inc domain.Incident, names map[string]string) []ReportRow {
	rows := make([]ReportRow, 0, len(inc.Entries))
	for _, entry := range inc.Entries {
		name, ok := names[entry.Phone]
		if !ok {
			name = "Unknown"
		}
		rows = append(rows, ReportRow{
			Name:   name,
			Phone:  entry.Phone,
			Status: DisplayStatus(entry),
			Tier:   entry.AttemptTier,
		})
	}
	return rows
}

func renderReport(rows []ReportRow) (string, error) {
	var buf bytes.Buffer
	if err := reportTpl.Execute(&buf, rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}
