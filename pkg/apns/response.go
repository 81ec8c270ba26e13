package apns

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// errorBody is the JSON document APNs returns with any non-200 status.
type errorBody struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// ParseResponse classifies an APNs response. It returns nil for status 200, an
// *Error for every known failure reason, and an *UnimplementedReasonError for
// any other reason.
func ParseResponse(statusCode int, header http.Header, body []byte) error {
	if statusCode == http.StatusOK {
		return nil
	}

	apnsID := header.Get(headerID)

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrMalformedResponse, statusCode, err)
	}
	if eb.Reason == "" {
		return fmt.Errorf("%w: status %d: no reason", ErrMalformedResponse, statusCode)
	}

	reason := Reason(eb.Reason)
	info, ok := reasons[reason]
	if !ok || reason == ReasonConnectionFailure {
		return &UnimplementedReasonError{
			Reason:     eb.Reason,
			StatusCode: statusCode,
			APNsID:     apnsID,
		}
	}

	apnsErr := &Error{
		Reason:     reason,
		Category:   info.category,
		StatusCode: statusCode,
		APNsID:     apnsID,
	}
	if reason == ReasonUnregistered {
		apnsErr.Timestamp = eb.Timestamp
	}
	return apnsErr
}
