// Package apns provides an HTTP/2 client for the Apple Push Notification Service.
//
// A Client is long-lived and owns a single HTTP/2 session to APNs, created lazily
// on the first push and discarded whenever APNs reports a transient server
// failure. Each Push delivers one Notification to one device token, retrying
// server-side failures up to three times. Failures are reported as *Error
// values classified by Category so callers can decide whether to drop a token,
// fix the request, or try again later.
//
// Authentication is either token based (an ES256 provider token signed with a
// .p8 key and cached for 45 minutes) or certificate based (a client TLS
// certificate presented during the handshake).
package apns
