package feeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// LoadJSON reads a file holding a JSON array of objects. Scalars keep their
// literal text, so 1e3 stays "1e3" and large integers are not rounded.
// Nested values are kept as raw JSON and null becomes "".
func LoadJSON(path string, loop bool) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read JSON file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%s: want a JSON array of objects", path)
	}

	var records []Record
	var errs []error
	doc.ForEach(func(i, item gjson.Result) bool {
		rec, err := jsonRecord(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i.Int(), err))
			return false
		}
		records = append(records, rec)
		return true
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: JSON array is empty", path)
	}
	return NewSource(filepath.Base(path), records, loop), nil
}

func jsonRecord(item gjson.Result) (Record, error) {
	if !item.IsObject() {
		return nil, fmt.Errorf("want an object, got %s", item.Type)
	}
	rec := Record{}
	item.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String, gjson.Null:
			rec[key.String()] = value.String()
		default:
			rec[key.String()] = value.Raw
		}
		return true
	})
	if len(rec) == 0 {
		return nil, errors.New("empty object")
	}
	return rec, nil
}
