// Package validator decodes and checks one line of the archive listing. It
// reports every missing or mistyped field of the record at once.
package validator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrParse
}

// wireRecord distinguishes absent and null keys from empty values.
type wireRecord struct {
	Name  *string    `json:"name"`
	Files *[]*string `json:"files"`
}

// ValidateRecord decodes a JSON object into an index.Record. Malformed JSON
// and records missing name or files are reported as ErrParse.
func ValidateRecord(line []byte) (index.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return index.Record{}, fmt.Errorf("decoding record: %v: %w", err, apperrors.ErrParse)
	}
	errs := make(map[string]string)
	if w.Name == nil {
		errs["name"] = "name is required"
	}
	var files []string
	if w.Files == nil {
		errs["files"] = "files is required"
	} else {
		files = make([]string, 0, len(*w.Files))
		for i, f := range *w.Files {
			if f == nil {
				errs["files"] = fmt.Sprintf("entry %d must be a string", i)
				break
			}
			files = append(files, *f)
		}
	}
	if len(errs) > 0 {
		return index.Record{}, &ValidationError{Fields: errs}
	}
	return index.Record{Name: *w.Name, Files: files}, nil
}
