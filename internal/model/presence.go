package model

// Status enumerates the online states a member can be in.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// Activity is one entry of a presence's activity list.
type Activity struct {
	Type    int    `json:"type"`
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Presence is a member's ephemeral online status and activity list. A
// Presence is immutable once built: presence payloads are complete
// snapshots, so each update replaces the whole value rather than merging
// into it.
type Presence struct {
	Status     Status     `json:"status"`
	Activities []Activity `json:"activities"`
}

// NewPresence builds an immutable Presence from a wire snapshot. An empty
// status maps to offline.
func NewPresence(p PresencePayload) *Presence {
	status := Status(p.Status)
	if status == "" {
		status = StatusOffline
	}

	pr := &Presence{Status: status}
	if len(p.Activities) > 0 {
		pr.Activities = make([]Activity, len(p.Activities))
		for i, a := range p.Activities {
			pr.Activities[i] = Activity(a)
		}
	}
	return pr
}
