// Package validator checks the little structure the bridge requires of a
// payload: UTF-8 text, well-formed JSON, and for objects, typed fields.
// Payload schemas beyond that are left to the endpoints.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidUTF8 is returned for binary payloads.
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

	// ErrInvalidJSON is returned when a payload does not parse as JSON.
	ErrInvalidJSON = errors.New("payload is not valid JSON")

	// ErrNotObject is returned when a JSON payload is not an object.
	ErrNotObject = errors.New("payload is not a JSON object")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("required field missing")

	// ErrFieldType is returned when a field has the wrong JSON type.
	ErrFieldType = errors.New("field has wrong type")
)

// UTF8 checks that data is valid UTF-8 text.
func UTF8(data []byte) error {
	if !utf8.Valid(data) {
		return ErrInvalidUTF8
	}
	return nil
}

// Compact validates data as a single JSON value and returns its compact form.
func Compact(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return buf.Bytes(), nil
}

// JSONObject checks that data is a well-formed JSON object.
func JSONObject(data []byte) error {
	if !gjson.ValidBytes(data) {
		return ErrInvalidJSON
	}
	if !gjson.ParseBytes(data).IsObject() {
		return ErrNotObject
	}
	return nil
}

// StringField returns the string value of a top-level field of a JSON object.
// Dots in field are treated literally, not as a path.
func StringField(data []byte, field string) (string, error) {
	if err := JSONObject(data); err != nil {
		return "", err
	}

	v := gjson.GetBytes(data, gjson.Escape(field))
	if !v.Exists() {
		return "", fmt.Errorf("%w: %q", ErrMissingField, field)
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: %q is %s, want string", ErrFieldType, field, v.Type)
	}
	return v.Str, nil
}
