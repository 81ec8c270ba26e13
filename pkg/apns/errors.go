package apns

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies a failed push and decides whether it is retried.
type Category int

const (
	// CategoryDevice means the device token is not valid for the topic. Stop
	// sending to it.
	CategoryDevice Category = iota + 1
	// CategoryServer means a transient APNs or connection failure. The Client
	// resets its session and retries these.
	CategoryServer
	// CategoryProgramming means the request itself is defective. Retrying it
	// unchanged will fail again.
	CategoryProgramming
)

func (c Category) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryServer:
		return "server"
	case CategoryProgramming:
		return "programming"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Reason is the failure reason APNs reports in the response body.
type Reason string

const (
	ReasonBadCollapseID               Reason = "BadCollapseId"
	ReasonBadDeviceToken              Reason = "BadDeviceToken"
	ReasonBadExpirationDate           Reason = "BadExpirationDate"
	ReasonBadMessageID                Reason = "BadMessageId"
	ReasonBadPriority                 Reason = "BadPriority"
	ReasonBadTopic                    Reason = "BadTopic"
	ReasonDeviceTokenNotForTopic      Reason = "DeviceTokenNotForTopic"
	ReasonDuplicateHeaders            Reason = "DuplicateHeaders"
	ReasonIdleTimeout                 Reason = "IdleTimeout"
	ReasonInvalidPushType             Reason = "InvalidPushType"
	ReasonMissingDeviceToken          Reason = "MissingDeviceToken"
	ReasonMissingTopic                Reason = "MissingTopic"
	ReasonPayloadEmpty                Reason = "PayloadEmpty"
	ReasonTopicDisallowed             Reason = "TopicDisallowed"
	ReasonBadCertificate              Reason = "BadCertificate"
	ReasonBadCertificateEnvironment   Reason = "BadCertificateEnvironment"
	ReasonExpiredProviderToken        Reason = "ExpiredProviderToken"
	ReasonForbidden                   Reason = "Forbidden"
	ReasonInvalidProviderToken        Reason = "InvalidProviderToken"
	ReasonMissingProviderToken        Reason = "MissingProviderToken"
	ReasonBadPath                     Reason = "BadPath"
	ReasonMethodNotAllowed            Reason = "MethodNotAllowed"
	ReasonUnregistered                Reason = "Unregistered"
	ReasonPayloadTooLarge             Reason = "PayloadTooLarge"
	ReasonTooManyProviderTokenUpdates Reason = "TooManyProviderTokenUpdates"
	ReasonTooManyRequests             Reason = "TooManyRequests"
	ReasonInternalServerError         Reason = "InternalServerError"
	ReasonServiceUnavailable          Reason = "ServiceUnavailable"
	ReasonShutdown                    Reason = "Shutdown"

	// ReasonConnectionFailure is never sent by APNs. It marks a request that
	// got no response at all.
	ReasonConnectionFailure Reason = "ConnectionFailure"
)

type reasonInfo struct {
	category    Category
	description string
}

var reasons = map[Reason]reasonInfo{
	ReasonBadCollapseID:               {CategoryProgramming, "The collapse identifier exceeds the maximum allowed size."},
	ReasonBadDeviceToken:              {CategoryDevice, "The specified device token was bad."},
	ReasonBadExpirationDate:           {CategoryProgramming, "The apns-expiration value is bad."},
	ReasonBadMessageID:                {CategoryProgramming, "The apns-id value is bad."},
	ReasonBadPriority:                 {CategoryProgramming, "The apns-priority value is bad."},
	ReasonBadTopic:                    {CategoryProgramming, "The apns-topic was invalid."},
	ReasonDeviceTokenNotForTopic:      {CategoryDevice, "The device token does not match the specified topic."},
	ReasonDuplicateHeaders:            {CategoryProgramming, "One or more headers were repeated."},
	ReasonIdleTimeout:                 {CategoryServer, "Idle time out."},
	ReasonInvalidPushType:             {CategoryProgramming, "The apns-push-type value is invalid."},
	ReasonMissingDeviceToken:          {CategoryProgramming, "The device token is not specified in the request :path."},
	ReasonMissingTopic:                {CategoryProgramming, "The apns-topic header of the request was not specified and was required."},
	ReasonPayloadEmpty:                {CategoryProgramming, "The message payload was empty."},
	ReasonTopicDisallowed:             {CategoryProgramming, "Pushing to this topic is not allowed."},
	ReasonBadCertificate:              {CategoryProgramming, "The certificate was bad."},
	ReasonBadCertificateEnvironment:   {CategoryProgramming, "The client certificate was for the wrong environment."},
	ReasonExpiredProviderToken:        {CategoryServer, "The provider token is stale and a new token should be generated."},
	ReasonForbidden:                   {CategoryProgramming, "The specified action is not allowed."},
	ReasonInvalidProviderToken:        {CategoryProgramming, "The provider token is not valid or the token signature could not be verified."},
	ReasonMissingProviderToken:        {CategoryProgramming, "No provider certificate was used and no provider token was specified."},
	ReasonBadPath:                     {CategoryProgramming, "The request contained a bad :path value."},
	ReasonMethodNotAllowed:            {CategoryProgramming, "The specified :method was not POST."},
	ReasonUnregistered:                {CategoryDevice, "The device token is inactive for the specified topic."},
	ReasonPayloadTooLarge:             {CategoryProgramming, "The message payload was too large."},
	ReasonTooManyProviderTokenUpdates: {CategoryServer, "The provider token is being updated too often."},
	ReasonTooManyRequests:             {CategoryServer, "Too many requests were made consecutively to the same device token."},
	ReasonInternalServerError:         {CategoryServer, "An internal server error occurred."},
	ReasonServiceUnavailable:          {CategoryServer, "The service is unavailable."},
	ReasonShutdown:                    {CategoryServer, "The server is shutting down."},
	ReasonConnectionFailure:           {CategoryServer, "No response was received from APNs."},
}

// Error is a classified push failure.
type Error struct {
	Reason   Reason
	Category Category

	// StatusCode is the HTTP status APNs answered with. Zero for connection
	// failures.
	StatusCode int

	// APNsID is the apns-id response header, if present.
	APNsID string

	// Timestamp is set for Unregistered only: the last time, in milliseconds
	// since the epoch, APNs confirmed the token was no longer valid.
	Timestamp int64

	// Err is the transport error behind a connection failure.
	Err error
}

// Error returns the reason, status and Apple's description of it.
func (e *Error) Error() string {
	msg := fmt.Sprintf("apns: %s", e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if info, ok := reasons[e.Reason]; ok {
		msg += ": " + info.description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resending the same request may succeed.
func (e *Error) Retryable() bool { return e.Category == CategoryServer }

// IsConnection reports whether the request failed before APNs answered.
func (e *Error) IsConnection() bool { return e.Reason == ReasonConnectionFailure }

// Time returns Timestamp as a time, or the zero time when it is unset.
func (e *Error) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// newConnectionError wraps a transport failure as a server-category error.
func newConnectionError(err error) *Error {
	return &Error{
		Reason:   ReasonConnectionFailure,
		Category: CategoryServer,
		Err:      err,
	}
}

// IsDevice reports whether err is a device-category *Error.
func IsDevice(err error) bool { return hasCategory(err, CategoryDevice) }

// IsServer reports whether err is a server-category *Error, including
// connection failures.
func IsServer(err error) bool { return hasCategory(err, CategoryServer) }

// IsProgramming reports whether err is a programming-category *Error.
func IsProgramming(err error) bool { return hasCategory(err, CategoryProgramming) }

func hasCategory(err error, c Category) bool {
	var apnsErr *Error
	return errors.As(err, &apnsErr) && apnsErr.Category == c
}

// ErrUnimplementedReason matches, via errors.Is, any response whose reason
// this package does not know. It signals a protocol change on Apple's side and
// needs a code update; it is never retried.
var ErrUnimplementedReason = errors.New("apns: reason not implemented")

// ErrMalformedResponse is returned when a failure response carries no
// decodable reason.
var ErrMalformedResponse = errors.New("apns: malformed error response")

// UnimplementedReasonError carries the unknown reason and response metadata.
type UnimplementedReasonError struct {
	Reason     string
	StatusCode int
	APNsID     string
}

func (e *UnimplementedReasonError) Error() string {
	return fmt.Sprintf("apns: reason not implemented: %s (%d)", e.Reason, e.StatusCode)
}

func (e *UnimplementedReasonError) Is(target error) bool {
	return target == ErrUnimplementedReason
}
