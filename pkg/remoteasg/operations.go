package remoteasg

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/cuemby/relay/pkg/types"
)

var creatingASGPattern = regexp.MustCompile(`Creating auto scaling group '([^']+)'`)

// CreateASGResult pairs a task URL with the new ASG's name. CreateNewASG and
// CreateNextASG do not return it; both return only the Location string.
type CreateASGResult struct {
	TaskURL string
	NewName string
}

// CreateNewASG issues the "create a brand new cluster" form POST. The remote
// service replies 302 with Location pointing directly at the new ASG's show
// page rather than a task, so the create itself completes immediately;
// callers still keep the Location around as the show endpoint for the
// following instance-health check to poll.
func (c *Client) CreateNewASG(ctx context.Context, region string, form url.Values) (string, error) {
	path := fmt.Sprintf("/%s/autoScaling/save", region)
	resp, err := c.Post(ctx, path, form)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 302 {
		return "", types.NewError(types.KindUnexpectedResponse, fmt.Sprintf("create new ASG: status %d", resp.StatusCode))
	}
	location := resp.Location()
	if location == "" {
		return "", types.NewError(types.KindUnexpectedResponse, "create new ASG: 302 with no Location header")
	}
	return location, nil
}

// CreateNextASG issues the "create the next generation for an existing
// cluster" POST. The new ASG's name is not in the Location header; it is
// extracted from the first log line of the resulting task matching
// "Creating auto scaling group '<name>'", so this call alone only yields the
// task URL — callers fetch the task and call ExtractNewASGName on its log.
func (c *Client) CreateNextASG(ctx context.Context, region string, form url.Values) (string, error) {
	path := fmt.Sprintf("/%s/cluster/createNextGroup", region)
	resp, err := c.Post(ctx, path, form)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 302 {
		return "", types.NewError(types.KindUnexpectedResponse, fmt.Sprintf("create next ASG: status %d", resp.StatusCode))
	}
	location := resp.Location()
	if location == "" {
		return "", types.NewError(types.KindUnexpectedResponse, "create next ASG: 302 with no Location header")
	}
	return location, nil
}

// ExtractNewASGName scans a task's log for the remote's "Creating auto
// scaling group '<name>'" announcement.
func ExtractNewASGName(log []types.LogEntry) (string, bool) {
	for _, entry := range log {
		if m := creatingASGPattern.FindStringSubmatch(entry.Message); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MutationAction is one of the cluster/index POST actions.
type MutationAction string

const (
	ActionDelete     MutationAction = "delete"
	ActionResize     MutationAction = "resize"
	ActionActivate   MutationAction = "activate"
	ActionDeactivate MutationAction = "deactivate"
)

// Mutate issues a delete/resize/enable(activate)/disable(deactivate) POST
// against an existing ASG and returns the task URL to poll.
func (c *Client) Mutate(ctx context.Context, region string, action MutationAction, name, ticket string) (string, error) {
	path := fmt.Sprintf("/%s/cluster/index", region)
	form := url.Values{}
	form.Set(fmt.Sprintf("_action_%s", action), "1")
	form.Set("name", name)
	form.Set("ticket", ticket)

	resp, err := c.Post(ctx, path, form)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 302 {
		return "", types.NewError(types.KindUnexpectedResponse, fmt.Sprintf("%s %s: status %d", action, name, resp.StatusCode))
	}
	location := resp.Location()
	if location == "" {
		return "", types.NewError(types.KindUnexpectedResponse, fmt.Sprintf("%s %s: 302 with no Location header", action, name))
	}
	return location + ".json", nil
}
