package notify

import (
	"bytes"
	"encoding/xml"
	"text/template"
)

var gatherTpl = template.Must(template.New("gather").Funcs(template.FuncMap{
	"esc": escapeXML,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Gather numDigits="1" action="{{esc .DigitURL}}" method="POST">
    <Say voice="{{esc .Voice}}">{{esc .Prompt}}</Say>
  </Gather>
  <Redirect method="POST">{{esc .NoAnswerURL}}</Redirect>
</Response>`))

// GatherTwiML renders the interactive prompt document for one call: say the
// prompt, gather a single digit, and redirect to the no-answer target when
// nothing is pressed.
func GatherTwiML(opts CallOptions) (string, error) {
	if opts.Voice == "" {
		opts.Voice = "alice"
	}
	var buf bytes.Buffer
	if err := gatherTpl.Execute(&buf, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SayHangupTwiML renders the short spoken acknowledgement returned to the
// caller after a key press.
func SayHangupTwiML(text string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Say>` + escapeXML(text) + `</Say><Hangup/></Response>`
}

// HangupTwiML renders a bare hangup document.
func HangupTwiML() string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
