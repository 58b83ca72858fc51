package notify

import "context"

// CallOptions carries the interactive prompt and the callback targets for one
// outbound voice call.
type CallOptions struct {
	Prompt      string
	Voice       string
	DigitURL    string // receives the gathered key press
	NoAnswerURL string // redirect target when the gather times out
	StatusURL   string // delivery-status callback
}

// Message is a secondary-channel payload: either a free-text body or an
// approved template reference.
type Message struct {
	Body        string
	TemplateSID string
}

// Notifier places voice calls and sends messages through the telephony
// provider. Implementations return an opaque dispatch ref used to correlate
// later response events back to the originating entry.
type Notifier interface {
	PlaceCall(ctx context.Context, to string, opts CallOptions) (string, error)
	SendMessage(ctx context.Context, to string, msg Message) (string, error)

	// Check probes provider reachability for the service status endpoint.
	Check(ctx context.Context) error
}
