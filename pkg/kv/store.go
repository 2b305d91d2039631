// Package kv persists whole-document JSON snapshots under namespaced keys.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	KeySession       = "datapivots-auth-session"
	KeyChatHistory   = "datapivots-chat-history"
	KeyChatState     = "datapivots-chat-state"
	KeyReports       = "datapivots-reports"
	KeyWidgetChanges = "datapivots-widget-changes"
)

// WidgetChangesKey namespaces the change log of one report.
func WidgetChangesKey(reportID string) string {
	return KeyWidgetChanges + ":" + reportID
}

// Store is a key-value snapshot store. Values are written wholesale.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// LoadJSON decodes the snapshot stored under key into dst.
// It reports false when the key is absent.
func LoadJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, &DecodeError{Key: key, Err: err}
	}
	return true, nil
}

// SaveJSON replaces the snapshot stored under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// DecodeError marks a snapshot that exists but cannot be parsed.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
