package domain

// Entry statuses. Accepted and Declined are terminal: once set, no further
// transition is applied to the entry.
const (
	StatusInitiated  = "initiated"
	StatusInProgress = "in_progress"
	StatusAccepted   = "accepted"
	StatusDeclined   = "declined"
	StatusInvalid    = "invalid"
	StatusNoResponse = "no_response"
	StatusFailed     = "failed"
)

type Member struct {
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Incident struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	Version   int64   `json:"version"`
	Entries   []Entry `json:"entries"`

	// ReportedAt is set once the final report has been compiled and sent.
	ReportedAt *string `json:"reported_at,omitempty" format:"date-time"`
}

// Entry tracks one recipient's contact attempts within an incident.
type Entry struct {
	Phone       string  `json:"phone"`
	Status      string  `json:"status" enum:"initiated,in_progress,accepted,declined,invalid,no_response,failed"`
	AttemptTier int     `json:"attempt_tier"`
	DispatchRef *string `json:"dispatch_ref,omitempty"`
}

// Terminal reports whether the entry's status admits further transitions.
func (e Entry) Terminal() bool {
	return e.Status == StatusAccepted || e.Status == StatusDeclined
}

// FindByRef returns a pointer to the entry matching the dispatch ref, or nil
// when the ref is unknown or stale.
func (inc *Incident) FindByRef(ref string) *Entry {
	if ref == "" {
		return nil
	}
	for i := range inc.Entries {
		if inc.Entries[i].DispatchRef != nil && *inc.Entries[i].DispatchRef == ref {
			return &inc.Entries[i]
		}
	}
	return nil
}

// FindByPhone returns a pointer to the entry for the given contact, or nil.
func (inc *Incident) FindByPhone(phone string) *Entry {
	for i := range inc.Entries {
		if inc.Entries[i].Phone == phone {
			return &inc.Entries[i]
		}
	}
	return nil
}

// Pending returns the contacts of all non-terminal entries in roster order.
func (inc *Incident) Pending() []string {
	var phones []string
	for _, e := range inc.Entries {
		if !e.Terminal() {
			phones = append(phones, e.Phone)
		}
	}
	return phones
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	IncidentID string `json:"incident_id,omitempty"`
	Contact    string `json:"contact,omitempty"`
	Payload    string `json:"payload_json"`
}
