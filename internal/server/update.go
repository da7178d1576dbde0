package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/npezzotti/go-pickup/internal/types"
)

// ResetEventLabel is appended to the timeline every time a room is reset.
const ResetEventLabel = "🔄 系統重置"

var ErrMalformedUpdate = errors.New("malformed update")

// Nullable is an optional field that may also be explicitly set to null.
type Nullable[T any] struct {
	Present bool
	Value   *T
}

// Some returns a present, non-null field.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Present: true, Value: &v}
}

// Null returns a present field that clears the target value.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Present: true}
}

// Update is a change-state request. A reset update only carries Status;
// a partial update overwrites each field that is set and leaves the rest
// of the state untouched.
type Update struct {
	Reset         bool
	Status        *int
	ETA           Nullable[int]
	Msg           *string
	MeetPoint     *string
	TargetTime    Nullable[int64]
	LiveMapURL    Nullable[string]
	TimelineEvent string
}

// ResetTo returns the reset form of an update.
func ResetTo(status int) Update {
	return Update{Reset: true, Status: &status}
}

// ParseUpdate decodes a change-state payload. A bare integer is a reset;
// an object is a partial update. Fields of the wrong type are skipped and
// their names returned so the caller can log them; unknown fields are
// ignored.
func ParseUpdate(raw json.RawMessage) (Update, []string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Update{}, nil, fmt.Errorf("%w: empty payload", ErrMalformedUpdate)
	}

	switch c := raw[0]; {
	case c == '{':
		return parsePartial(raw)
	case c == '-' || (c >= '0' && c <= '9'):
		status, err := parseStatus(raw)
		if err != nil {
			return Update{}, nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		}
		return ResetTo(status), nil, nil
	default:
		return Update{}, nil, fmt.Errorf("%w: expected integer or object", ErrMalformedUpdate)
	}
}

// parseStatus accepts any integral JSON number, including forms like 1.0
// and 1e2.
func parseStatus(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}

	if i, err := n.Int64(); err == nil {
		if i < math.MinInt || i > math.MaxInt {
			return 0, fmt.Errorf("status %s out of range", n)
		}
		return int(i), nil
	}

	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("status %s is not an integer", n)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 || f < math.MinInt || f > math.MaxInt {
		return 0, fmt.Errorf("status %s out of range", n)
	}
	return int(f), nil
}

func parsePartial(raw json.RawMessage) (Update, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Update{}, nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	var (
		u       Update
		skipped []string
	)

	skip := func(name string, err error) {
		if err != nil {
			skipped = append(skipped, name)
		}
	}

	if v, ok := fields["status"]; ok {
		var status *int
		err := json.Unmarshal(v, &status)
		if err == nil && status == nil {
			err = errors.New("status cannot be null")
		}
		skip("status", err)
		if err == nil {
			u.Status = status
		}
	}
	if v, ok := fields["eta"]; ok {
		skip("eta", decodeNullable(v, &u.ETA))
	}
	if v, ok := fields["msg"]; ok {
		skip("msg", decodeText(v, &u.Msg))
	}
	if v, ok := fields["meetPoint"]; ok {
		skip("meetPoint", decodeText(v, &u.MeetPoint))
	}
	if v, ok := fields["targetTime"]; ok {
		skip("targetTime", decodeNullable(v, &u.TargetTime))
	}
	if v, ok := fields["liveMapUrl"]; ok {
		skip("liveMapUrl", decodeNullable(v, &u.LiveMapURL))
	}
	if v, ok := fields["timelineEvent"]; ok {
		var label *string
		err := json.Unmarshal(v, &label)
		skip("timelineEvent", err)
		if err == nil && label != nil {
			u.TimelineEvent = *label
		}
	}

	return u, skipped, nil
}

func decodeNullable[T any](raw json.RawMessage, dst *Nullable[T]) error {
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	*dst = Nullable[T]{Present: true, Value: v}
	return nil
}

// decodeText decodes a string field where null means empty.
func decodeText(raw json.RawMessage, dst **string) error {
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	if v == nil {
		v = new(string)
	}
	*dst = v
	return nil
}

// Apply merges u into s and returns the timeline label it produces, if any.
// Values are never range checked.
func (u Update) Apply(s *types.State) (string, bool) {
	if u.Reset {
		if u.Status != nil {
			s.Status = *u.Status
		}
		s.ETA = nil
		s.Msg = ""
		s.LiveMapURL = nil
		return ResetEventLabel, true
	}

	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.ETA.Present {
		s.ETA = clonePtr(u.ETA.Value)
	}
	if u.Msg != nil {
		s.Msg = *u.Msg
	}
	if u.MeetPoint != nil {
		s.MeetPoint = *u.MeetPoint
	}
	if u.TargetTime.Present {
		s.TargetTime = clonePtr(u.TargetTime.Value)
	}
	if u.LiveMapURL.Present {
		s.LiveMapURL = clonePtr(u.LiveMapURL.Value)
	}

	return u.TimelineEvent, u.TimelineEvent != ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
