package types

// Status values shared by both parties of a room. They are informational
// only; any transition between them is allowed.
const (
	StatusIdle      = 0
	StatusShopping  = 1
	StatusRequested = 2
	StatusEnRoute   = 3
	StatusArrived   = 4
	StatusEmergency = 5
)

// State is the synchronized status snapshot of a room. Every field is always
// serialized; absent values are null or empty, never omitted.
type State struct {
	Status     int     `json:"status"`
	ETA        *int    `json:"eta"`
	Msg        string  `json:"msg"`
	MeetPoint  string  `json:"meetPoint"`
	TargetTime *int64  `json:"targetTime"`
	LiveMapURL *string `json:"liveMapUrl"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	if s.ETA != nil {
		eta := *s.ETA
		c.ETA = &eta
	}
	if s.TargetTime != nil {
		tt := *s.TargetTime
		c.TargetTime = &tt
	}
	if s.LiveMapURL != nil {
		u := *s.LiveMapURL
		c.LiveMapURL = &u
	}
	return c
}

// Event is a single timeline entry.
type Event struct {
	Time  int64  `json:"time"`
	Event string `json:"event"`
}
