package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Health is the snapshot written after every stage boundary so an operator
// can see what the last run touched without opening the ledger.
type Health struct {
	Ts     string `json:"ts"`
	ItemID string `json:"item_id"`
	Stage  string `json:"stage"`
	Ok     bool   `json:"ok"`
	Error  string `json:"error"`
}

// WriteHealth writes the health snapshot atomically (temp file + rename)
func WriteHealth(path string, itemID, stage string, ok bool, errMsg string) error {
	h := Health{
		Ts:     time.Now().UTC().Format(time.RFC3339Nano),
		ItemID: itemID,
		Stage:  stage,
		Ok:     ok,
		Error:  errMsg,
	}

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create health dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write health temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename health file: %w", err)
	}
	return nil
}

// ReadHealth loads the last written health snapshot
func ReadHealth(path string) (*Health, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse health file: %w", err)
	}
	return &h, nil
}
