package gateway

import (
	"encoding/base64"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a raw envelope is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Inspector turns raw envelope bytes into a View for discriminator matching
// and field extraction.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View provides read access to envelope fields by gjson path
// (e.g. "requestContext.http.method").
type View interface {
	// HasField reports whether the path exists.
	HasField(path string) bool

	// GetString returns the string at path. Numbers and booleans are
	// rendered in their JSON text form; objects and arrays are rejected.
	GetString(path string) (string, bool)

	// GetStringMap returns the object at path with every value rendered as
	// a string. Missing or null paths yield an empty map.
	GetStringMap(path string) map[string]string

	// GetBytes returns the raw JSON at path.
	GetBytes(path string) ([]byte, bool)
}

// JSONInspector returns an Inspector backed by gjson.
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(raw []byte) (View, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{raw: raw}, nil
}

type jsonView struct {
	raw []byte
}

func (v jsonView) HasField(path string) bool {
	return gjson.GetBytes(v.raw, path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	r := gjson.GetBytes(v.raw, path)
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return r.String(), true
	default:
		return "", false
	}
}

func (v jsonView) GetStringMap(path string) map[string]string {
	out := map[string]string{}
	r := gjson.GetBytes(v.raw, path)
	if !r.IsObject() {
		return out
	}
	r.ForEach(func(k, val gjson.Result) bool {
		if val.Type != gjson.Null {
			out[k.String()] = val.String()
		}
		return true
	})
	return out
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := gjson.GetBytes(v.raw, path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}

// decodeBody turns an envelope body string into a structured value. JSON text
// is decoded; anything else is returned as the original string. Empty bodies
// decode to nil.
func decodeBody(body string, base64Encoded bool) (any, error) {
	if base64Encoded {
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}
	if body == "" {
		return nil, nil
	}
	if gjson.Valid(body) {
		return gjson.Parse(body).Value(), nil
	}
	return body, nil
}
