package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/fleetglide/dispatchd/core/model"
)

// JSONLStore appends transitions to a JSONL file, one record per line.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore creates the file if needed and returns the store.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

func (s *JSONLStore) Append(_ context.Context, tr model.AlertTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(tr)
}

func (s *JSONLStore) Query(_ context.Context, q Query) ([]model.AlertTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []model.AlertTransition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var tr model.AlertTransition
		if err := json.Unmarshal(scanner.Bytes(), &tr); err != nil {
			continue
		}
		if q.matches(tr) {
			res = append(res, tr)
		}
	}
	return res, scanner.Err()
}

func (s *JSONLStore) Close() error { return nil }
