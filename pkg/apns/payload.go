package apns

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxPayloadSize is the largest JSON body, in bytes, APNs accepts for a regular
// remote notification.
const MaxPayloadSize = 2048

// truncationMarker is appended to an alert body that had to be shortened.
const truncationMarker = "..."

// Payload is the JSON body of a notification. The concrete variants are
// IOSPayload, SafariPayload and PasskitPayload.
type Payload interface {
	// document returns the JSON object for the payload with the alert body
	// replaced by body.
	document(body string) map[string]any
	// alertBody returns the untruncated alert body, if any.
	alertBody() string
}

// InterruptionLevel controls how an iOS notification interrupts the user.
type InterruptionLevel string

const (
	InterruptionPassive       InterruptionLevel = "passive"
	InterruptionActive        InterruptionLevel = "active"
	InterruptionTimeSensitive InterruptionLevel = "time-sensitive"
	InterruptionCritical      InterruptionLevel = "critical"
)

// IOSAlert is the alert dictionary of an iOS, iPadOS, tvOS or watchOS notification.
type IOSAlert struct {
	Title           string
	Subtitle        string
	Body            string
	TitleLocKey     string
	TitleLocArgs    []string
	SubtitleLocKey  string
	SubtitleLocArgs []string
	LocKey          string
	LocArgs         []string
	ActionLocKey    string
	LaunchImage     string
}

func (a *IOSAlert) document(body string) map[string]any {
	d := baseAlert(a.Title, body)
	setString(d, "subtitle", a.Subtitle)
	setString(d, "title-loc-key", a.TitleLocKey)
	setStrings(d, "title-loc-args", a.TitleLocArgs)
	setString(d, "subtitle-loc-key", a.SubtitleLocKey)
	setStrings(d, "subtitle-loc-args", a.SubtitleLocArgs)
	setString(d, "loc-key", a.LocKey)
	setStrings(d, "loc-args", a.LocArgs)
	setString(d, "action-loc-key", a.ActionLocKey)
	setString(d, "launch-image", a.LaunchImage)
	return d
}

// SafariAlert is the alert dictionary of a Safari web push notification.
type SafariAlert struct {
	Title  string
	Body   string
	Action string
}

func (a *SafariAlert) document(body string) map[string]any {
	d := baseAlert(a.Title, body)
	setString(d, "action", a.Action)
	return d
}

// IOSPayload is the payload of a notification for an Apple device app.
// Badge and RelevanceScore are pointers so that zero values can be sent.
type IOSPayload struct {
	Alert             *IOSAlert
	Badge             *int
	Sound             string
	Category          string
	ContentAvailable  bool
	MutableContent    bool
	ThreadID          string
	TargetContentID   string
	InterruptionLevel InterruptionLevel
	RelevanceScore    *float64
	// Custom keys are merged at the top level, next to "aps".
	Custom map[string]any
}

func (p *IOSPayload) alertBody() string {
	if p.Alert == nil {
		return ""
	}
	return p.Alert.Body
}

func (p *IOSPayload) document(body string) map[string]any {
	aps := map[string]any{}
	if p.Alert != nil {
		aps["alert"] = p.Alert.document(body)
	}
	if p.Badge != nil {
		aps["badge"] = *p.Badge
	}
	setString(aps, "sound", p.Sound)
	setString(aps, "category", p.Category)
	if p.ContentAvailable {
		aps["content-available"] = 1
	}
	if p.MutableContent {
		aps["mutable-content"] = 1
	}
	setString(aps, "thread-id", p.ThreadID)
	setString(aps, "target-content-id", p.TargetContentID)
	setString(aps, "interruption-level", string(p.InterruptionLevel))
	if p.RelevanceScore != nil {
		aps["relevance-score"] = *p.RelevanceScore
	}
	return withCustom(aps, p.Custom)
}

// SafariPayload is the payload of a Safari web push notification.
// "url-args" is always present, empty when URLArgs is nil.
type SafariPayload struct {
	Alert   *SafariAlert
	URLArgs []string
	Custom  map[string]any
}

func (p *SafariPayload) alertBody() string {
	if p.Alert == nil {
		return ""
	}
	return p.Alert.Body
}

func (p *SafariPayload) document(body string) map[string]any {
	aps := map[string]any{}
	if p.Alert != nil {
		aps["alert"] = p.Alert.document(body)
	}
	args := p.URLArgs
	if args == nil {
		args = []string{}
	}
	aps["url-args"] = args
	return withCustom(aps, p.Custom)
}

// PasskitPayload is the payload of a Wallet pass update, which is always an
// empty JSON object.
type PasskitPayload struct{}

func (PasskitPayload) alertBody() string { return "" }

func (PasskitPayload) document(string) map[string]any { return map[string]any{} }

// EncodePayload serializes p as compact JSON with sorted keys. When the result
// is larger than MaxPayloadSize and the payload carries an alert body, the body
// is shortened from the end and suffixed with "..." until the document fits or
// the body runs out. No other field is ever shortened, so an oversized payload
// without an alert body is returned as is.
func EncodePayload(p Payload) ([]byte, error) {
	if isNilPayload(p) {
		return nil, fmt.Errorf("apns: nil payload")
	}
	body := p.alertBody()
	data, err := marshalCompact(p.document(body))
	if err != nil {
		return nil, err
	}

	candidate := []rune(body)
	for len(candidate) > 0 {
		extra := len(data) - MaxPayloadSize
		if extra <= 0 {
			break
		}
		strip := min(max(1, extra/10), len(candidate))
		candidate = candidate[:len(candidate)-strip]
		data, err = marshalCompact(p.document(string(candidate) + truncationMarker))
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// isNilPayload reports whether p is nil or a nil pointer to a payload type.
func isNilPayload(p Payload) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *IOSPayload:
		return v == nil
	case *SafariPayload:
		return v == nil
	case *PasskitPayload:
		return v == nil
	}
	return false
}

// marshalCompact encodes v without HTML escaping or a trailing newline.
// encoding/json already sorts map keys.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("apns: failed to encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func baseAlert(title, body string) map[string]any {
	d := map[string]any{}
	setString(d, "title", title)
	setString(d, "body", body)
	return d
}

func withCustom(aps map[string]any, custom map[string]any) map[string]any {
	d := map[string]any{"aps": aps}
	for k, v := range custom {
		d[k] = v
	}
	return d
}

func setString(d map[string]any, key, value string) {
	if value != "" {
		d[key] = value
	}
}

func setStrings(d map[string]any, key string, values []string) {
	if len(values) > 0 {
		d[key] = values
	}
}
