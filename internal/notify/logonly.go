package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogOnly is the notifier used when no carrier credentials are configured:
// every dispatch is logged and acknowledged with a locally generated ref, so
// the full timeline can be exercised without placing real calls.
type LogOnly struct{}

func (LogOnly) PlaceCall(_ context.Context, to string, opts CallOptions) (string, error) {
	ref := "local-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{"to": to, "ref": ref}).Info("log-only: voice call")
	return ref, nil
}

func (LogOnly) SendMessage(_ context.Context, to string, msg Message) (string, error) {
	ref := "local-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{"to": to, "ref": ref}).Infof("log-only: message %q", msg.Body)
	return ref, nil
}

func (LogOnly) Check(context.Context) error { return nil }
