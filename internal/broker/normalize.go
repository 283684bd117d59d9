package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// codec keeps numbers as json.Number so balances survive without float rounding.
var codec = sonic.Config{UseNumber: true}.Froze()

// Envelope is a broker response normalized to a single shape.
type Envelope struct {
	// Body whole decoded object, nil when the body was empty or not an object.
	Body map[string]any
	// Payload value found under result, data, or the body itself.
	Payload any
}

// Object returns the payload as an object, or nil.
func (e Envelope) Object() map[string]any {
	m, _ := e.Payload.(map[string]any)
	return m
}

// Rejection is returned when the broker answers with an explicit failure marker.
type Rejection struct {
	Message string
}

func (e *Rejection) Error() string {
	if e.Message == "" {
		return "broker rejected the request"
	}
	return "broker rejected the request: " + e.Message
}

// StatusError is returned when the broker answers with a non-2xx status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker returned status %d", e.Status)
	}
	return fmt.Sprintf("broker returned status %d: %s", e.Status, e.Message)
}

// ShapeMismatch is returned when a body is not in any recognized shape.
type ShapeMismatch struct {
	Reason string
}

func (e *ShapeMismatch) Error() string {
	return "unrecognized response shape: " + e.Reason
}

var (
	flagKeys    = []string{"isSuccessful", "success"}
	payloadKeys = []string{"result", "data"}
	messageKeys = []string{"message", "msg", "error", "errorMessage"}
)

// Normalize decides whether a raw broker response is a success and extracts its payload.
//
// A response succeeds when the status is 2xx and the body carries a truthy
// isSuccessful/success flag, a "success"/"ok" status string, or no marker at all.
// With requireMarker set a marker-less body is a ShapeMismatch.
func Normalize(status int, body []byte, requireMarker bool) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)

	if status < 200 || status > 299 {
		msg := ""
		if obj, ok := decodeObject(trimmed); ok {
			msg = message(obj)
		}
		return Envelope{}, &StatusError{Status: status, Message: msg}
	}

	if len(trimmed) == 0 {
		if requireMarker {
			return Envelope{}, &ShapeMismatch{Reason: "empty body"}
		}
		return Envelope{}, nil
	}

	var decoded any
	if err := codec.Unmarshal(trimmed, &decoded); err != nil {
		if requireMarker {
			return Envelope{}, &ShapeMismatch{Reason: "body is not JSON"}
		}
		return Envelope{}, nil
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		if requireMarker {
			return Envelope{}, &ShapeMismatch{Reason: "body is not an object"}
		}
		return Envelope{Payload: decoded}, nil
	}

	succeeded, marked := successMarker(obj)
	if marked && !succeeded {
		return Envelope{}, &Rejection{Message: message(obj)}
	}
	if !marked && requireMarker {
		return Envelope{}, &ShapeMismatch{Reason: "no success marker"}
	}

	return Envelope{Body: obj, Payload: payload(obj)}, nil
}

func decodeObject(body []byte) (map[string]any, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var obj map[string]any
	if err := codec.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// successMarker reports (succeeded, marked). Any truthy marker wins.
func successMarker(obj map[string]any) (bool, bool) {
	marked := false
	for _, key := range flagKeys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		marked = true
		if truthy(v) {
			return true, true
		}
	}

	if s, ok := obj["status"].(string); ok {
		switch strings.ToLower(s) {
		case "success", "ok":
			return true, true
		case "error", "fail", "failed", "failure":
			marked = true
		}
	}

	return false, marked
}

func payload(obj map[string]any) any {
	for _, key := range payloadKeys {
		if v, ok := obj[key]; ok && truthy(v) {
			return v
		}
	}
	return obj
}

func message(obj map[string]any) string {
	for _, key := range messageKeys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if nested := message(v); nested != "" {
				return nested
			}
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// stringField returns the first truthy key rendered as a string.
func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case json.Number:
			if truthy(v) {
				return v.String(), true
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

// decimalField returns the first non-zero numeric key.
func decimalField(obj map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		var (
			d   decimal.Decimal
			err error
		)
		switch v := obj[key].(type) {
		case json.Number:
			d, err = decimal.NewFromString(v.String())
		case string:
			d, err = decimal.NewFromString(v)
		case float64:
			d = decimal.NewFromFloat(v)
		default:
			continue
		}
		if err == nil && !d.IsZero() {
			return d, true
		}
	}
	return decimal.Zero, false
}

func boolField(obj map[string]any, key string) bool {
	return truthy(obj[key])
}
