package registry

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// EnvMap is a site's opaque string->string environment map, stored as a
// JSON blob in a single text column rather than a side table: sites
// rarely have more than a handful of entries and callers always replace
// the whole map at once (PATCH /api/sites/:id/env).
type EnvMap map[string]string

// Value implements driver.Valuer.
func (m EnvMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *EnvMap) Scan(src any) error {
	if src == nil {
		*m = EnvMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("registry: EnvMap.Scan: unsupported source type")
	}
	if len(raw) == 0 {
		*m = EnvMap{}
		return nil
	}
	out := make(EnvMap)
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
