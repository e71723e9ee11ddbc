package remoteasg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

const (
	logLineLayout    = "2006-01-02_15:04:05"
	updateTimeLayout = "2006-01-02 15:04:05 MST"
)

// remoteTaskDoc is the JSON shape returned by a task-status GET.
type remoteTaskDoc struct {
	Status     string   `json:"status"`
	Log        []string `json:"log"`
	UpdateTime string   `json:"updateTime"`
}

// TaskStatus is the normalized form of a remote task-status fetch.
type TaskStatus struct {
	Status     string
	Log        []types.LogEntry
	UpdateTime time.Time
}

// FetchTaskStatus GETs taskURL and normalizes its log-line timestamps and
// update-time into standard Go types.
func (c *Client) FetchTaskStatus(ctx context.Context, taskURL string) (*TaskStatus, error) {
	resp, err := c.Get(ctx, taskURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, types.NewError(types.KindUnexpectedResponse, fmt.Sprintf("task fetch %s: status %d", taskURL, resp.StatusCode))
	}

	var doc remoteTaskDoc
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, types.WrapError(types.KindUnexpectedResponse, "task fetch: decode body", err)
	}

	entries := make([]types.LogEntry, 0, len(doc.Log))
	for _, line := range doc.Log {
		entry, err := ParseLogLine(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	updateTime, err := ParseUpdateTime(doc.UpdateTime)
	if err != nil {
		return nil, types.WrapError(types.KindUnexpectedResponse, "task fetch: parse updateTime", err)
	}

	return &TaskStatus{
		Status:     doc.Status,
		Log:        entries,
		UpdateTime: updateTime,
	}, nil
}

// ParseLogLine turns a remote "YYYY-MM-DD_HH:MM:SS message" line into a
// LogEntry with an ISO-8601 timestamp.
func ParseLogLine(raw string) (types.LogEntry, error) {
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return types.LogEntry{}, fmt.Errorf("remoteasg: malformed log line: %q", raw)
	}
	ts, err := time.Parse(logLineLayout, parts[0])
	if err != nil {
		return types.LogEntry{}, fmt.Errorf("remoteasg: malformed log timestamp: %w", err)
	}
	return types.LogEntry{Timestamp: ts, Message: parts[1]}, nil
}

// ParseUpdateTime parses the remote's "YYYY-MM-DD HH:MM:SS UTC" timestamp.
// The zone token is non-standard for Go's reference layout, so UTC is
// textually substituted with GMT before parsing.
func ParseUpdateTime(raw string) (time.Time, error) {
	normalized := strings.Replace(raw, "UTC", "GMT", 1)
	return time.Parse(updateTimeLayout, normalized)
}
