package push

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

type subscribeBody struct {
	UID string `json:"uid"`
}

type heartbeatBody struct {
	Interval int64 `json:"interval"`
}

// SubscribePayload returns the SUB body for uid: {"uid":"<uid>"}.
// An empty uid is encoded as-is, giving {"uid":""}.
func SubscribePayload(uid string) string {
	b, _ := json.Marshal(subscribeBody{UID: uid})
	return string(b)
}

// HeartbeatPayload returns the PING body announcing the next heartbeat
// interval in milliseconds: {"interval":<millis>}.
func HeartbeatPayload(interval time.Duration) string {
	b, _ := json.Marshal(heartbeatBody{Interval: interval.Milliseconds()})
	return string(b)
}

// ParseInterval extracts the interval from a PING body.
func ParseInterval(text string) (time.Duration, error) {
	if !gjson.Valid(text) {
		return 0, errors.Errorf("invalid heartbeat body %q", text)
	}
	v := gjson.Get(text, "interval")
	if v.Type != gjson.Number || v.Int() < 0 {
		return 0, errors.Errorf("heartbeat body %q has no interval", text)
	}
	return time.Duration(v.Int()) * time.Millisecond, nil
}

// ParseUID extracts the subscriber id from a SUB body.
func ParseUID(text string) (string, error) {
	v := gjson.Get(text, "uid")
	if !gjson.Valid(text) || v.Type != gjson.String {
		return "", errors.Errorf("subscribe body %q has no uid", text)
	}
	return v.String(), nil
}

// Subscribe sends a SUB frame registering uid for pushes. An empty uid is
// not rejected; it is sent as {"uid":""} and the server decides what it means.
func (c *Client) Subscribe(uid string, onComplete func(error)) error {
	return c.Send(SignalSub, SubscribePayload(uid), onComplete)
}

// Heartbeat sends a PING frame announcing the next heartbeat interval.
func (c *Client) Heartbeat(interval time.Duration, onComplete func(error)) error {
	return c.Send(SignalPing, HeartbeatPayload(interval), onComplete)
}
