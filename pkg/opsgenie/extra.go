package opsgenie

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Extra holds the fields of a record that have no typed counterpart, such as
// the type-specific settings of an integration (apiKey, allowReadAccess,
// emailAddress). They are written back unchanged when the record is encoded,
// after the typed fields and in key order.
type Extra map[string]json.RawMessage

var (
	integrationFields = jsonFieldNames(reflect.TypeOf(Integration{}))
	userFields        = jsonFieldNames(reflect.TypeOf(User{}))
)

// UnmarshalJSON decodes the typed fields and keeps everything else in Extra.
func (i *Integration) UnmarshalJSON(data []byte) error {
	type plain Integration
	if err := json.Unmarshal(data, (*plain)(i)); err != nil {
		return err
	}
	extra, err := splitExtra(data, integrationFields)
	if err != nil {
		return err
	}
	i.Extra = extra
	return nil
}

// MarshalJSON encodes the typed fields followed by Extra.
func (i Integration) MarshalJSON() ([]byte, error) {
	type plain Integration
	data, err := json.Marshal(plain(i))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, i.Extra, integrationFields)
}

// UnmarshalJSON decodes the typed fields and keeps everything else in Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	if err := json.Unmarshal(data, (*plain)(u)); err != nil {
		return err
	}
	extra, err := splitExtra(data, userFields)
	if err != nil {
		return err
	}
	u.Extra = extra
	return nil
}

// MarshalJSON encodes the typed fields followed by Extra.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	data, err := json.Marshal(plain(u))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, u.Extra, userFields)
}

// jsonFieldNames returns the lower-cased JSON keys encoding/json maps onto t.
// Keys are matched case-insensitively, like the decoder does.
func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if !f.IsExported() || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		names[strings.ToLower(name)] = true
	}
	return names
}

func splitExtra(data []byte, known map[string]bool) (Extra, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k := range fields {
		if known[strings.ToLower(k)] {
			delete(fields, k)
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func appendExtra(data []byte, extra Extra, known map[string]bool) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	buf.Write(bytes.TrimSuffix(bytes.TrimSpace(data), []byte("}")))
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		// Typed fields win over a colliding extra key
		if known[strings.ToLower(k)] {
			continue
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if v := extra[k]; len(v) > 0 {
			buf.Write(v)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
