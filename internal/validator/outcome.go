// Package validator decides whether a bearer token is accepted by the
// gateway. Classify is the single place where an HTTP response becomes an
// authentication outcome; the transport and the tool loader reuse it so
// every caller agrees on what counts as a rejection.
package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// InvalidTokenMarker appears in gateway bodies that reject a token without
// a 403.
const InvalidTokenMarker = "Invalid Bearer token"

// maxDetail bounds how much of a response body is kept for diagnostics.
const maxDetail = 512

// Kind is the classified result of using a token.
type Kind int

const (
	// Valid means the token was accepted.
	Valid Kind = iota
	// AuthRejected means the remote side refused the token.
	AuthRejected
	// OtherError is any failure that says nothing about the token.
	OtherError
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case AuthRejected:
		return "auth_rejected"
	case OtherError:
		return "other_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of a probe or an authenticated call.
type Outcome struct {
	Kind       Kind
	StatusCode int
	// Transient is set for OtherError outcomes worth retrying unchanged:
	// network failures, timeouts, 408, 429 and 5xx.
	Transient bool
	// Detail is a short description: the JSON-RPC error message, a body
	// excerpt, or the transport error.
	Detail string
	Err    error
}

// Label names the outcome for logs and metrics.
func (o Outcome) Label() string {
	switch {
	case o.Kind == OtherError && o.Transient:
		return "transient"
	case o.Kind == OtherError:
		return "rejected"
	default:
		return o.Kind.String()
	}
}

func (o Outcome) String() string {
	s := o.Label()
	if o.StatusCode != 0 {
		s += fmt.Sprintf(" (status %d)", o.StatusCode)
	}
	if o.Detail != "" {
		s += ": " + o.Detail
	}
	return s
}

// Classify maps a response to an outcome. It depends only on its inputs.
func Classify(status int, body []byte) Outcome {
	out := Outcome{StatusCode: status, Detail: detail(body)}

	is2xx := status >= 200 && status < 300
	is4xx := status >= 400 && status < 500

	switch {
	case (is2xx || is4xx) && bytes.Contains(body, []byte(InvalidTokenMarker)):
		out.Kind = AuthRejected
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		out.Kind = AuthRejected
	case is2xx:
		out.Kind = Valid
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		out.Kind = OtherError
		out.Transient = true
	default:
		out.Kind = OtherError
	}
	return out
}

// ClassifyError maps a failure to get any response. Everything except the
// caller's own cancellation is transient.
func ClassifyError(err error) Outcome {
	return Outcome{
		Kind:      OtherError,
		Transient: !errors.Is(err, context.Canceled),
		Detail:    err.Error(),
		Err:       err,
	}
}

func detail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return msg.String()
		}
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
			return msg.String()
		}
	}
	s := string(bytes.TrimSpace(body))
	if len(s) > maxDetail {
		s = s[:maxDetail] + "..."
	}
	return s
}
