package apns

import (
	"net/http"
	"strconv"

	"github.com/sideshow/apns2"
)

// Priority is the apns-priority header value. APNs only understands 5 and 10;
// other values are sent as given and rejected by the server with BadPriority.
type Priority int

const (
	// PriorityLow lets APNs deliver at a time that conserves device power.
	PriorityLow Priority = apns2.PriorityLow
	// PriorityHigh asks APNs to deliver immediately.
	PriorityHigh Priority = apns2.PriorityHigh
)

// PushType is the apns-push-type header value.
type PushType string

const (
	PushTypeAlert        PushType = "alert"
	PushTypeBackground   PushType = "background"
	PushTypeVOIP         PushType = "voip"
	PushTypeComplication PushType = "complication"
	PushTypeFileProvider PushType = "fileprovider"
	PushTypeMDM          PushType = "mdm"
	PushTypeLocation     PushType = "location"
	PushTypeLiveActivity PushType = "liveactivity"
	PushTypePushToTalk   PushType = "pushtotalk"
	PushTypeControls     PushType = "controls"
)

// Request header names.
const (
	headerContentType = "Content-Type"
	headerTopic       = "apns-topic"
	headerID          = "apns-id"
	headerCollapseID  = "apns-collapse-id"
	headerPriority    = "apns-priority"
	headerExpiration  = "apns-expiration"
	headerPushType    = "apns-push-type"

	contentTypeJSON = "application/json; charset=utf-8"
)

// Notification is a payload plus the delivery metadata APNs reads from the
// request headers. Zero-valued fields are not sent.
type Notification struct {
	Payload Payload

	// Topic is the app bundle ID, with a suffix for some push types
	// (e.g. ".voip", ".complication"). Required for token authentication.
	Topic string

	// APNsID is an optional canonical UUID identifying the notification.
	// APNs generates one and echoes it in the response when it is empty.
	APNsID string

	// CollapseID lets a newer notification replace an undelivered older one.
	CollapseID string

	// Expiration is a UNIX epoch in seconds after which APNs stops trying to
	// deliver the notification.
	Expiration int64

	Priority Priority
	PushType PushType
}

// Headers returns the request headers for the notification.
func (n *Notification) Headers() map[string]string {
	h := map[string]string{headerContentType: contentTypeJSON}
	if n.Topic != "" {
		h[headerTopic] = n.Topic
	}
	if n.APNsID != "" {
		h[headerID] = n.APNsID
	}
	if n.CollapseID != "" {
		h[headerCollapseID] = n.CollapseID
	}
	if n.Priority != 0 {
		h[headerPriority] = strconv.Itoa(int(n.Priority))
	}
	if n.Expiration != 0 {
		h[headerExpiration] = strconv.FormatInt(n.Expiration, 10)
	}
	if n.PushType != "" {
		h[headerPushType] = string(n.PushType)
	}
	return h
}

// JSONData returns the encoded, size-bounded payload.
func (n *Notification) JSONData() ([]byte, error) {
	return EncodePayload(n.Payload)
}

// httpHeader converts Headers into an http.Header without canonicalizing the
// lowercase apns-* names.
func (n *Notification) httpHeader() http.Header {
	h := make(http.Header)
	for k, v := range n.Headers() {
		h[k] = []string{v}
	}
	return h
}
