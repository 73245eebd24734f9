package conduit

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when an inbound payload is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Inspector examines raw bytes and returns a View for field queries. The
// dispatcher uses it to pull the discriminator out of a frame before paying
// for a full decode.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View provides cheap field access over one inbound frame.
type View interface {
	// HasField returns true if the path exists in the frame.
	HasField(path string) bool

	// GetString returns the string value at path, or false if the path is
	// absent or not a string.
	GetString(path string) (string, bool)

	// GetBytes returns the raw JSON value at path, or false if absent.
	GetBytes(path string) ([]byte, bool)
}

// JSONInspector returns the default Inspector, backed by gjson.
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
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := gjson.GetBytes(v.raw, path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}
