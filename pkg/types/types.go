package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskAction is the closed enum of pipeline steps a deployment can run.
type TaskAction string

const (
	ActionCreateASG          TaskAction = "create-asg"
	ActionWaitInstanceHealth TaskAction = "wait-for-instance-health"
	ActionEnableASG          TaskAction = "enable-asg"
	ActionWaitELBHealth      TaskAction = "wait-for-elb-health"
	ActionDisableASG         TaskAction = "disable-asg"
	ActionDeleteASG          TaskAction = "delete-asg"
)

// StandardTaskActions returns the fixed, ordered action list every deployment runs.
func StandardTaskActions() []TaskAction {
	return []TaskAction{
		ActionCreateASG,
		ActionWaitInstanceHealth,
		ActionEnableASG,
		ActionWaitELBHealth,
		ActionDisableASG,
		ActionDeleteASG,
	}
}

// TaskStatus is the closed enum of states a task can occupy.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskTerminated TaskStatus = "terminated"
	TaskSkipped    TaskStatus = "skipped"
)

// Terminal reports whether a status ends the task for restart-sweep purposes.
// pending is intentionally excluded: an interrupted deployment with a pending
// task is still incomplete and must be picked back up.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTerminated, TaskSkipped:
		return true
	default:
		return false
	}
}

// LogEntry is a single timestamped line appended to a task's log during execution.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Task is one step of a deployment's fixed, ordered pipeline.
type Task struct {
	TaskID string     `json:"task_id"`
	Action TaskAction `json:"action"`
	Status TaskStatus `json:"status"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	URL    string     `json:"url,omitempty"`
	Log    []LogEntry `json:"log,omitempty"`
}

// NewTask builds a fresh, pending task for the given action.
func NewTask(action TaskAction) *Task {
	return &Task{
		TaskID: uuid.New().String(),
		Action: action,
		Status: TaskPending,
	}
}

// AppendLog records a message against the task at the given time.
func (t *Task) AppendLog(at time.Time, message string) {
	t.Log = append(t.Log, LogEntry{Timestamp: at, Message: message})
}

// Parameters is the merged per-deployment parameter map. Recognized keys are
// exposed through typed accessors; remote-service-specific keys pass through
// untouched.
type Parameters map[string]interface{}

// MergeParameters combines three layers under strict precedence:
// protected wins over user, user wins over defaults.
func MergeParameters(defaults, user, protected Parameters) Parameters {
	merged := make(Parameters, len(defaults)+len(user)+len(protected))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	for k, v := range protected {
		merged[k] = v
	}
	return merged
}

func (p Parameters) intVal(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p Parameters) stringVal(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func (p Parameters) stringSliceVal(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Min is parameters.min, used to decide whether instance-health waiting is skipped.
func (p Parameters) Min() int { return p.intVal("min") }

// Max is parameters.max.
func (p Parameters) Max() int { return p.intVal("max") }

// DesiredCapacity is parameters.desired_capacity.
func (p Parameters) DesiredCapacity() int { return p.intVal("desired_capacity") }

// HealthCheckType is parameters.health_check_type, one of "EC2" or "ELB".
func (p Parameters) HealthCheckType() string { return p.stringVal("health_check_type") }

// SelectedLoadBalancers is parameters.selected_load_balancers, accepting either
// a scalar or a list in the source map.
func (p Parameters) SelectedLoadBalancers() []string {
	return p.stringSliceVal("selected_load_balancers")
}

// NewASGName is parameters.new_asg_name.
func (p Parameters) NewASGName() string { return p.stringVal("new_asg_name") }

// OldASGName is parameters.old_asg_name.
func (p Parameters) OldASGName() string { return p.stringVal("old_asg_name") }

// SubnetPurpose is parameters.subnet_purpose.
func (p Parameters) SubnetPurpose() string { return p.stringVal("subnet_purpose") }

// SelectedSecurityGroups is parameters.selected_security_groups.
func (p Parameters) SelectedSecurityGroups() []string {
	return p.stringSliceVal("selected_security_groups")
}

// SelectedZones is parameters.selected_zones.
func (p Parameters) SelectedZones() []string { return p.stringSliceVal("selected_zones") }

// Deployment is the authoritative, persistent record of a single deployment
// request moving through the pipeline.
type Deployment struct {
	DeploymentID string     `json:"deployment_id"`
	Application  string     `json:"application"`
	Environment  string     `json:"environment"`
	Region       string     `json:"region"`
	AMI          string     `json:"ami"`
	User         string     `json:"user"`
	Message      string     `json:"message"`
	Parameters   Parameters `json:"parameters"`
	Tasks        []*Task    `json:"tasks"`
	Created      time.Time  `json:"created"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	ConfigHash   string     `json:"config_hash,omitempty"`
}

// NewDeployment builds a fresh deployment document with the standard task
// list, all tasks pending, and a freshly minted deployment id.
func NewDeployment(application, environment, region, ami, user, message string, parameters Parameters) *Deployment {
	actions := StandardTaskActions()
	tasks := make([]*Task, 0, len(actions))
	for _, action := range actions {
		tasks = append(tasks, NewTask(action))
	}
	return &Deployment{
		DeploymentID: uuid.New().String(),
		Application:  application,
		Environment:  environment,
		Region:       region,
		AMI:          ami,
		User:         user,
		Message:      message,
		Parameters:   parameters,
		Tasks:        tasks,
		Created:      time.Now(),
	}
}

// CoordinationKey returns the "app-env-region" key used by every per-target
// coordination entry (in-progress, paused, awaiting-pause, awaiting-cancel);
// the global lock is a single key and does not use it.
func (d *Deployment) CoordinationKey() string {
	return CoordinationKey(d.Application, d.Environment, d.Region)
}

// CoordinationKey builds the "app-env-region" key from its parts.
func CoordinationKey(application, environment, region string) string {
	return fmt.Sprintf("%s-%s-%s", application, environment, region)
}

// FindTask locates a task by id and returns its index alongside it.
func (d *Deployment) FindTask(taskID string) (*Task, int, bool) {
	for i, t := range d.Tasks {
		if t.TaskID == taskID {
			return t, i, true
		}
	}
	return nil, -1, false
}

// TaskAfter returns the task immediately following the given index, if any.
func (d *Deployment) TaskAfter(index int) (*Task, bool) {
	if index+1 >= len(d.Tasks) {
		return nil, false
	}
	return d.Tasks[index+1], true
}

// FirstNonTerminalTask returns the first task whose status is not terminal,
// used by the restart sweep to resume an interrupted deployment.
func (d *Deployment) FirstNonTerminalTask() (*Task, int, bool) {
	for i, t := range d.Tasks {
		if !t.Status.Terminal() {
			return t, i, true
		}
	}
	return nil, -1, false
}

// Incomplete reports whether any task has not reached a terminal status.
func (d *Deployment) Incomplete() bool {
	_, _, ok := d.FirstNonTerminalTask()
	return ok
}

// Broken reports whether the deployment has no end timestamp, i.e. it neither
// completed nor was abandoned cleanly.
func (d *Deployment) Broken() bool {
	return d.End == nil
}

// Kind is the closed enum of error kinds raised by the pipeline, tracker, and
// orchestrator.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindAlreadyInProgress    Kind = "already-in-progress"
	KindLocked               Kind = "locked"
	KindUnknownSecurityGroup Kind = "unknown-security-group"
	KindMissingASG           Kind = "missing-asg"
	KindUnexpectedResponse   Kind = "unexpected-response"
	KindTaskMissing          Kind = "task-missing"
	KindTrackerTransient     Kind = "tracker-transient"
	KindImageMismatch        Kind = "image-mismatch"
)

// Error pairs a Kind with a human-readable message and, optionally, the
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an Error of the given kind around an underlying cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
