package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStore keeps counters in memory and writes them to a JSON file after
// every batch. Suitable for a single instance with modest key cardinality.
type JSONStore struct {
	filePath string
	mu       sync.Mutex
	data     *jsonData
}

// jsonData represents the structure of data stored in JSON format
type jsonData struct {
	Allowed     int64             `json:"allowed"`
	Denied      int64             `json:"denied"`
	Keys        map[string]Counts `json:"keys"`
	LastUpdated time.Time         `json:"last_updated"`
}

// NewJSONStore opens the counters file at path, creating it if needed.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required for JSON stats")
	}

	s := &JSONStore{filePath: path}
	if err := s.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}
	if err := s.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}
	return s, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (s *JSONStore) ensureFileExists() error {
	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return s.saveData(&jsonData{Keys: map[string]Counts{}})
	}
	return nil
}

func (s *JSONStore) loadData() error {
	fileData, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data jsonData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Keys == nil {
		data.Keys = map[string]Counts{}
	}
	s.data = &data
	return nil
}

// saveData writes to a temporary file and renames it over the old one so a
// crash never leaves a truncated file behind.
func (s *JSONStore) saveData(data *jsonData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func (s *JSONStore) Record(_ context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range aggregate(events) {
		s.data.Allowed += c.Allowed
		s.data.Denied += c.Denied

		k := s.data.Keys[key]
		k.Allowed += c.Allowed
		k.Denied += c.Denied
		s.data.Keys[key] = k
	}
	return s.saveData(s.data)
}

func (s *JSONStore) Summary(_ context.Context, topN int) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Summary{
		Allowed:   s.data.Allowed,
		Denied:    s.data.Denied,
		TopDenied: topDenied(s.data.Keys, topN),
	}, nil
}

func (s *JSONStore) Close() error {
	return nil
}
