package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTwilioFixture(t *testing.T, handler http.HandlerFunc) *Twilio {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwilio(TwilioConfig{
		AccountSID:    "AC123",
		AuthToken:     "tok",
		From:          "+15550100000",
		MessagingFrom: "whatsapp:+15550100000",
		BaseURL:       srv.URL,
		HTTPClient:    srv.Client(),
	})
}

func TestTwilioPlaceCall(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string
	tw := newTwilioFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "tok" {
			t.Errorf("bad auth: %s %s", user, pass)
		}
		r.ParseForm()
		gotForm = r.PostForm
		w.Write([]byte(`{"sid":"CA42"}`))
	})

	sid, err := tw.PlaceCall(context.Background(), "+15550100010", CallOptions{
		Prompt:      "Code Blue",
		DigitURL:    "https://hooks.example/callbacks/response",
		NoAnswerURL: "https://hooks.example/callbacks/noanswer",
		StatusURL:   "https://hooks.example/callbacks/status",
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if sid != "CA42" {
		t.Fatalf("want CA42, got %s", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Errorf("path: %s", gotPath)
	}
	if got := gotForm["To"]; len(got) != 1 || got[0] != "+15550100010" {
		t.Errorf("To: %v", got)
	}
	if got := gotForm["Twiml"]; len(got) != 1 || !strings.Contains(got[0], "<Gather") {
		t.Errorf("Twiml: %v", got)
	}
	if got := gotForm["StatusCallback"]; len(got) != 1 || got[0] != "https://hooks.example/callbacks/status" {
		t.Errorf("StatusCallback: %v", got)
	}
	if got := gotForm["StatusCallbackEvent"]; len(got) != 4 {
		t.Errorf("StatusCallbackEvent: %v", got)
	}
}

func TestTwilioSendMessagePrefersTemplate(t *testing.T) {
	var gotForm map[string][]string
	tw := newTwilioFixture(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Write([]byte(`{"sid":"SM7"}`))
	})

	sid, err := tw.SendMessage(context.Background(), "whatsapp:+15550100010", Message{
		Body:        "fallback body",
		TemplateSID: "HX9",
	})
	if err != nil || sid != "SM7" {
		t.Fatalf("send: %s %v", sid, err)
	}
	if got := gotForm["ContentSid"]; len(got) != 1 || got[0] != "HX9" {
		t.Errorf("ContentSid: %v", got)
	}
	if len(gotForm["Body"]) != 0 {
		t.Errorf("Body should be omitted with a template: %v", gotForm["Body"])
	}
	if got := gotForm["From"]; len(got) != 1 || got[0] != "whatsapp:+15550100000" {
		t.Errorf("From: %v", got)
	}
}

func TestTwilioErrorSurfacesBody(t *testing.T) {
	tw := newTwilioFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	})
	_, err := tw.SendMessage(context.Background(), "bogus", Message{Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Fatalf("want carrier error body, got %v", err)
	}
}

func TestTwilioCheck(t *testing.T) {
	tw := newTwilioFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123.json" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"active"}`))
	})
	if err := tw.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}

	bad := newTwilioFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := bad.Check(context.Background()); err == nil {
		t.Fatal("want error on 401")
	}
}
