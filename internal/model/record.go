package model

import "time"

// Record is the full tracked state of one deployment.
type Record struct {
	Config         DeploymentConfig `json:"config"`
	State          State            `json:"state"`
	ActiveColor    Color            `json:"active_color"`
	Ports          *PortAllocation  `json:"ports"`
	BlueContainer  *ContainerInfo   `json:"blue_container"`
	GreenContainer *ContainerInfo   `json:"green_container"`

	HealthStatus    HealthStatus `json:"health_status"`
	LastHealthCheck *time.Time   `json:"last_health_check"`

	// The three operation fields are set and cleared together.
	OperationInProgress bool       `json:"operation_in_progress"`
	CurrentOperation    *string    `json:"current_operation"`
	OperationStartedAt  *time.Time `json:"operation_started_at"`

	Events    EventLog  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord returns an idle record serving from the blue slot.
func NewRecord(cfg DeploymentConfig, now time.Time) *Record {
	return &Record{
		Config:       cfg.Clone(),
		State:        StateIdle,
		ActiveColor:  ColorBlue,
		HealthStatus: HealthUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ID returns the deployment id.
func (r *Record) ID() string {
	return r.Config.DeploymentID
}

// Container returns the container info for a color, or nil.
func (r *Record) Container(c Color) *ContainerInfo {
	if c == ColorGreen {
		return r.GreenContainer
	}
	return r.BlueContainer
}

// SetContainer replaces the container info for a color.
func (r *Record) SetContainer(c Color, info *ContainerInfo) {
	if c == ColorGreen {
		r.GreenContainer = info
	} else {
		r.BlueContainer = info
	}
}

// AddEvent appends an event and refreshes UpdatedAt.
func (r *Record) AddEvent(at time.Time, eventType, message string, data map[string]any) {
	r.Events.Append(NewEvent(at, eventType, message, data))
	r.UpdatedAt = at
}

// BeginOperation marks an operation as in progress.
func (r *Record) BeginOperation(name string, at time.Time) {
	r.OperationInProgress = true
	r.CurrentOperation = &name
	r.OperationStartedAt = &at
	r.UpdatedAt = at
}

// EndOperation clears the operation fields and returns how long the
// operation ran.
func (r *Record) EndOperation(at time.Time) (string, time.Duration) {
	var name string
	var elapsed time.Duration
	if r.CurrentOperation != nil {
		name = *r.CurrentOperation
	}
	if r.OperationStartedAt != nil {
		elapsed = at.Sub(*r.OperationStartedAt)
	}
	r.OperationInProgress = false
	r.CurrentOperation = nil
	r.OperationStartedAt = nil
	r.UpdatedAt = at
	return name, elapsed
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Config = r.Config.Clone()
	if r.Ports != nil {
		p := *r.Ports
		out.Ports = &p
	}
	out.BlueContainer = r.BlueContainer.Clone()
	out.GreenContainer = r.GreenContainer.Clone()
	if r.LastHealthCheck != nil {
		t := *r.LastHealthCheck
		out.LastHealthCheck = &t
	}
	if r.CurrentOperation != nil {
		op := *r.CurrentOperation
		out.CurrentOperation = &op
	}
	if r.OperationStartedAt != nil {
		t := *r.OperationStartedAt
		out.OperationStartedAt = &t
	}
	return &out
}
