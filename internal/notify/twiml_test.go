package notify

import (
	"strings"
	"testing"
)

func TestGatherTwiML(t *testing.T) {
	out, err := GatherTwiML(CallOptions{
		Prompt:      `Code Blue: press 1 to "accept" & respond`,
		DigitURL:    "https://hooks.example/callbacks/response?token=a&b",
		NoAnswerURL: "https://hooks.example/callbacks/noanswer",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		`<Gather numDigits="1"`,
		`action="https://hooks.example/callbacks/response?token=a&amp;b"`,
		`voice="alice"`,
		"&#34;accept&#34; &amp; respond",
		"<Redirect method=\"POST\">https://hooks.example/callbacks/noanswer</Redirect>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGatherTwiMLCustomVoice(t *testing.T) {
	out, err := GatherTwiML(CallOptions{Prompt: "hi", Voice: "Polly.Joanna", DigitURL: "x", NoAnswerURL: "y"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `voice="Polly.Joanna"`) {
		t.Errorf("voice not applied:\n%s", out)
	}
}

func TestSayHangupTwiMLEscapes(t *testing.T) {
	out := SayHangupTwiML("ok <bye>")
	if !strings.Contains(out, "<Say>ok &lt;bye&gt;</Say>") || !strings.Contains(out, "<Hangup/>") {
		t.Errorf("unexpected twiml: %s", out)
	}
}
