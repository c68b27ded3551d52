package action

import "fmt"

// Type is the wire tag of an action node.
type Type string

const (
	TypeRawAlert       Type = "raw_alert"
	TypeTemplatedAlert Type = "templated_alert"
	TypeAggregation    Type = "aggregation"
	TypeTag            Type = "tag"
	TypeAnomaly        Type = "anomaly"
	TypeComposite      Type = "composite"
)

// Action is what a rule does when its condition matches. The set of variants
// is closed; dispatch is an exhaustive type switch.
type Action interface {
	actionNode()
	// ID is the action's id within its rule.
	ID() uint16
	Type() Type
}

// RawAlert is an inline alert with a fixed body.
type RawAlert struct {
	ActionID uint16
	Target   string
	Media    string
	Body     string
}

// TemplatedAlert references a template to be rendered against the event.
type TemplatedAlert struct {
	ActionID   uint16
	TemplateID uint16
}

// Aggregation feeds a header value into a time window keyed by other headers.
type Aggregation struct {
	ActionID uint16
	// Window size in seconds.
	Window      int
	KeyHeaders  []string
	ValueHeader string
	// DownstreamActionID names the action the hosting stage applies to
	// window results; zero means none.
	DownstreamActionID uint16
}

// Tag emits a derived event carrying extra headers.
type Tag struct {
	ActionID uint16
	Tags     map[string]string
}

// Anomaly emits one point of a numeric series for anomaly detection downstream.
type Anomaly struct {
	ActionID     uint16
	SeriesHeader string
	ValueHeader  string
}

// Composite executes all of its actions in order.
type Composite struct {
	ActionID uint16
	Actions  []Action
}

func (*RawAlert) actionNode()       {}
func (*TemplatedAlert) actionNode() {}
func (*Aggregation) actionNode()    {}
func (*Tag) actionNode()            {}
func (*Anomaly) actionNode()        {}
func (*Composite) actionNode()      {}

func (a *RawAlert) ID() uint16       { return a.ActionID }
func (a *TemplatedAlert) ID() uint16 { return a.ActionID }
func (a *Aggregation) ID() uint16    { return a.ActionID }
func (a *Tag) ID() uint16            { return a.ActionID }
func (a *Anomaly) ID() uint16        { return a.ActionID }
func (a *Composite) ID() uint16      { return a.ActionID }

func (*RawAlert) Type() Type       { return TypeRawAlert }
func (*TemplatedAlert) Type() Type { return TypeTemplatedAlert }
func (*Aggregation) Type() Type    { return TypeAggregation }
func (*Tag) Type() Type            { return TypeTag }
func (*Anomaly) Type() Type        { return TypeAnomaly }
func (*Composite) Type() Type      { return TypeComposite }

// RuleActionID is the identifier of one action of one rule, "<ruleId>_<actionId>".
func RuleActionID(ruleID, actionID uint16) string {
	return fmt.Sprintf("%d_%d", ruleID, actionID)
}

// Walk calls fn for a and, for composites, every nested action depth first.
func Walk(a Action, fn func(Action) error) error {
	if err := fn(a); err != nil {
		return err
	}
	if c, ok := a.(*Composite); ok {
		for _, sub := range c.Actions {
			if err := Walk(sub, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
