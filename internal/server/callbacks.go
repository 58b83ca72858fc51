package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"codeblue/internal/domain"
	"codeblue/internal/engine"
	"codeblue/internal/notify"
)

// registerCallbacks mounts the carrier-facing webhook routes. These sit
// outside the huma group: the carrier posts form-encoded bodies and expects
// TwiML back, not JSON. Each dispatch URL carries a signed token scoping the
// callback to its incident.
func registerCallbacks(router chi.Router, e engine.Engine) {
	router.Post("/callbacks/response", callbackHandler(e, handleResponse))
	router.Post("/callbacks/noanswer", callbackHandler(e, handleNoAnswer))
	router.Post("/callbacks/status", callbackHandler(e, handleDeliveryStatus))
	router.Post("/callbacks/reply/yes", callbackHandler(e, replyHandler(true)))
	router.Post("/callbacks/reply/no", callbackHandler(e, replyHandler(false)))
}

type callbackFunc func(w http.ResponseWriter, r *http.Request, e engine.Engine, incidentID string)

// callbackHandler parses the form body and checks the callback token before
// delegating. The incident id recovered from the token pins the event to the
// incident whose dispatch minted the URL.
func callbackHandler(e engine.Engine, fn callbackFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		incidentID, err := e.Tokens.Verify(r.URL.Query().Get("token"))
		if err != nil {
			logrus.Warnf("callback %s: %v", r.URL.Path, err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fn(w, r, e, incidentID)
	}
}

func handleResponse(w http.ResponseWriter, r *http.Request, e engine.Engine, incidentID string) {
	sid := r.PostFormValue("CallSid")
	digit := r.PostFormValue("Digits")
	if sid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	if err := e.ApplyDigit(r.Context(), incidentID, sid, digit); err != nil {
		logrus.Errorf("apply digit: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var say string
	switch engine.StatusForDigit(digit) {
	case domain.StatusAccepted:
		say = e.Config.Hotline.AcceptSay
	case domain.StatusDeclined:
		say = e.Config.Hotline.DeclineSay
	default:
		say = e.Config.Hotline.InvalidSay
	}
	writeTwiML(w, notify.SayHangupTwiML(say))
}

func handleNoAnswer(w http.ResponseWriter, r *http.Request, e engine.Engine, incidentID string) {
	sid := r.PostFormValue("CallSid")
	if sid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	if err := e.ApplyNoAnswer(r.Context(), incidentID, sid); err != nil {
		logrus.Errorf("apply no-answer: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, notify.HangupTwiML())
}

func handleDeliveryStatus(w http.ResponseWriter, r *http.Request, e engine.Engine, incidentID string) {
	sid := r.PostFormValue("CallSid")
	outcome := r.PostFormValue("CallStatus")
	if sid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	if err := e.ApplyDeliveryStatus(r.Context(), incidentID, sid, outcome); err != nil {
		logrus.Errorf("apply delivery status: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func replyHandler(accept bool) callbackFunc {
	return func(w http.ResponseWriter, r *http.Request, e engine.Engine, incidentID string) {
		sender := strings.TrimPrefix(r.PostFormValue("sender_number"), "whatsapp:")
		if sender == "" {
			http.Error(w, "sender_number is required", http.StatusBadRequest)
			return
		}
		if err := e.ApplyReply(r.Context(), incidentID, sender, accept); err != nil {
			logrus.Errorf("apply reply: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if accept {
			io.WriteString(w, "Accepted")
		} else {
			io.WriteString(w, "Declined")
		}
	}
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}
