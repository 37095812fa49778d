package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveJSON writes records as an indented UTF-8 JSON array.
func SaveJSON(path string, records []MemberRecord) error {
	if records == nil {
		records = []MemberRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode members: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadJSON reads a file written by SaveJSON.
func LoadJSON(path string) ([]MemberRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read members: %w", err)
	}
	var records []MemberRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse members: %w", err)
	}
	return records, nil
}

// Audience summarises a member list.
type Audience struct {
	Total         int `json:"total"`
	WithNames     int `json:"with_names"`
	WithUsernames int `json:"with_usernames"`
}

func (a Audience) String() string {
	return fmt.Sprintf("%d чел., %d с именами, %d с @username", a.Total, a.WithNames, a.WithUsernames)
}

// Analyze counts members with a first name and with a real username.
func Analyze(records []MemberRecord) Audience {
	a := Audience{Total: len(records)}
	for _, r := range records {
		if r.FirstName != "" {
			a.WithNames++
		}
		if r.HasUsername() {
			a.WithUsernames++
		}
	}
	return a
}
