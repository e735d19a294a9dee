package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"insight_server/core/domain"
)

// FileSource reads a mailbox export of Gmail API "full" messages. The file
// holds either a JSON array of messages or an object with a "messages" array.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// FetchAllSince loads the export and keeps messages inside the window. The
// window ends at the newest message of the export, not at the current time.
// Messages without a parseable internalDate are kept.
func (s *FileSource) FetchAllSince(ctx context.Context, window time.Duration) ([]*domain.RawEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox export: %w", err)
	}

	messages, err := decodeExport(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mailbox export %s: %w", s.path, err)
	}
	if window <= 0 {
		return messages, nil
	}

	newest := int64(0)
	for _, m := range messages {
		if ms, ok := internalMillis(m); ok && ms > newest {
			newest = ms
		}
	}
	if newest == 0 {
		return messages, nil
	}

	cutoff := newest - window.Milliseconds()
	kept := make([]*domain.RawEmail, 0, len(messages))
	for _, m := range messages {
		if ms, ok := internalMillis(m); ok && ms < cutoff {
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

func decodeExport(data []byte) ([]*domain.RawEmail, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var messages []*domain.RawEmail
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, err
		}
		return dropNil(messages), nil
	}

	var wrapped struct {
		Messages []*domain.RawEmail `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return dropNil(wrapped.Messages), nil
}

func dropNil(messages []*domain.RawEmail) []*domain.RawEmail {
	kept := messages[:0]
	for _, m := range messages {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return kept
}

func internalMillis(m *domain.RawEmail) (int64, bool) {
	if m.InternalDate == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	return ms, err == nil
}
