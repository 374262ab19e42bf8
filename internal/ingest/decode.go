package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DeafMist/insight-dashboard/internal/models"
)

// ErrNotArray is returned when the input does not start with a JSON array.
var ErrNotArray = errors.New("input must be a JSON array of objects")

// DecodeArray streams a JSON array of records, calling fn for each element in
// order. It returns the number of records handed to fn.
func DecodeArray(r io.Reader, fn func(models.Record) error) (int, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrNotArray
		}
		return 0, fmt.Errorf("read array start: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, ErrNotArray
	}

	n := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return n, fmt.Errorf("element %d: %w", n, err)
		}
		rec, err := DecodeRecord(raw)
		if err != nil {
			return n, fmt.Errorf("element %d: %w", n, err)
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}

	if _, err := dec.Token(); err != nil {
		return n, fmt.Errorf("read array end: %w", err)
	}
	return n, nil
}

// DecodeRecord decodes a single JSON object into a record. Field values are
// kept as given; absent fields get their defaults and the identity is
// cleared, since the store assigns it.
func DecodeRecord(data []byte) (models.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return models.Record{}, errors.New("record must be a JSON object")
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Record{}, err
	}
	rec.ID = ""
	return rec, nil
}

// ReadFile loads every record of a JSON array file.
func ReadFile(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []models.Record
	if _, err := DecodeArray(f, func(rec models.Record) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
