package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTwilioAPI     = "https://api.twilio.com"
	defaultTwilioTimeout = 15 * time.Second
)

type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	From          string // voice caller id
	MessagingFrom string // secondary-channel sender, e.g. whatsapp:+1...
	BaseURL       string // override for tests
	HTTPClient    *http.Client
}

// Twilio drives the carrier REST API directly: form-encoded POSTs with basic
// auth, one resource per dispatch.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioAPI
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTwilioTimeout}
	}
	return &Twilio{cfg: cfg, client: client}
}

func (t *Twilio) PlaceCall(ctx context.Context, to string, opts CallOptions) (string, error) {
	twiml, err := GatherTwiML(opts)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.From)
	form.Set("Twiml", twiml)
	if opts.StatusURL != "" {
		form.Set("StatusCallback", opts.StatusURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, evt := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", evt)
		}
	}
	sid, err := t.post(ctx, "Calls.json", form)
	if err != nil {
		return "", err
	}
	logrus.WithField("sid", sid).Debugf("call created for %s", to)
	return sid, nil
}

func (t *Twilio) SendMessage(ctx context.Context, to string, msg Message) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.MessagingFrom)
	if msg.TemplateSID != "" {
		form.Set("ContentSid", msg.TemplateSID)
	} else {
		form.Set("Body", msg.Body)
	}
	return t.post(ctx, "Messages.json", form)
}

// Check fetches the account resource, mirroring a plain credential probe.
func (t *Twilio) Check(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("twilio status %d", res.StatusCode)
	}
	return nil
}

func (t *Twilio) post(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.AccountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	res, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("twilio %s status %d: %s", resource, res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode twilio response: %w", err)
	}
	if out.SID == "" {
		return "", fmt.Errorf("twilio %s: response missing sid", resource)
	}
	return out.SID, nil
}
