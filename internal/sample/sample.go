// Package sample models the hierarchical result of one test-case execution
// and rebuilds it from a lane's flat event recording.
package sample

import (
	"encoding/json"
	"maps"
	"time"
)

// Status is the outcome of a sample.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusBroken  Status = "BROKEN"
	StatusSkipped Status = "SKIPPED"
)

// IsFailure reports whether s is FAILED or BROKEN.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusBroken
}

// Assertion is a named check applied to a sample.
type Assertion struct {
	Name    string
	Failed  bool
	Message string
	Trace   string
}

// PathComponent locates a sample, e.g. {"module", "checkout"} or {"request", "/cart"}.
type PathComponent struct {
	Kind  string `json:"type"`
	Value string `json:"value"`
}

// Sample is one node of a result tree: a test case, a transaction or a request.
type Sample struct {
	TestSuite    string
	TestCase     string
	Status       Status
	StartTime    time.Time
	Duration     time.Duration
	ErrorMessage string
	ErrorTrace   string
	Extras       map[string]any
	Assertions   []Assertion
	Path         []PathComponent
	Children     []*Sample

	parent *Sample
}

// New returns a sample with empty extras.
func New(suite, testCase string, status Status) *Sample {
	return &Sample{
		TestSuite: suite,
		TestCase:  testCase,
		Status:    status,
		Extras:    map[string]any{},
	}
}

// Parent returns the enclosing sample, or nil for a root.
func (s *Sample) Parent() *Sample {
	return s.parent
}

// AddChild appends child and makes s its parent.
func (s *Sample) AddChild(child *Sample) {
	child.parent = s
	s.Children = append(s.Children, child)
}

// AddAssertion registers a passing assertion named name. Names are unique
// within a sample; adding an existing name is a no-op.
func (s *Sample) AddAssertion(name string) {
	if s.assertion(name) != nil {
		return
	}
	s.Assertions = append(s.Assertions, Assertion{Name: name})
}

// SetAssertionFailed marks the assertion named name failed, registering it
// first if needed, and fails s and all of its ancestors.
func (s *Sample) SetAssertionFailed(name, message, trace string) {
	s.AddAssertion(name)
	a := s.assertion(name)
	a.Failed = true
	a.Message = message
	a.Trace = trace
	s.SetFailed(message, trace)
}

// SetFailed marks s and every ancestor up to the root FAILED with message.
func (s *Sample) SetFailed(message, trace string) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.Status = StatusFailed
		cur.ErrorMessage = message
		cur.ErrorTrace = trace
	}
}

// SetBroken marks s BROKEN with message. Ancestors that have not failed yet
// become BROKEN with the same message; one that already failed keeps its
// first failure.
func (s *Sample) SetBroken(message, trace string) {
	s.Status, s.ErrorMessage, s.ErrorTrace = StatusBroken, message, trace
	for cur := s.parent; cur != nil; cur = cur.parent {
		if cur.Status.IsFailure() {
			continue
		}
		cur.Status, cur.ErrorMessage, cur.ErrorTrace = StatusBroken, message, trace
	}
}

func (s *Sample) assertion(name string) *Assertion {
	for i := range s.Assertions {
		if s.Assertions[i].Name == name {
			return &s.Assertions[i]
		}
	}
	return nil
}

// Depth is the number of edges on the longest path from s down to a leaf.
func (s *Sample) Depth() int {
	if len(s.Children) == 0 {
		return 0
	}
	deepest := 0
	for _, child := range s.Children {
		deepest = max(deepest, child.Depth())
	}
	return deepest + 1
}

// Leaves returns the samples without children, in tree order.
func (s *Sample) Leaves() []*Sample {
	if len(s.Children) == 0 {
		return []*Sample{s}
	}
	var leaves []*Sample
	for _, child := range s.Children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

type jsonAssertion struct {
	Name       string `json:"name"`
	Failed     bool   `json:"failed"`
	ErrorMsg   string `json:"error_msg"`
	ErrorTrace string `json:"error_trace"`
}

type jsonExtraAssertion struct {
	Name         string `json:"name"`
	IsFailed     bool   `json:"isFailed"`
	ErrorMessage string `json:"errorMessage"`
}

type jsonSample struct {
	TestSuite  string          `json:"test_suite"`
	TestCase   string          `json:"test_case"`
	Status     Status          `json:"status"`
	StartTime  float64         `json:"start_time"`
	Duration   float64         `json:"duration"`
	ErrorMsg   string          `json:"error_msg"`
	ErrorTrace string          `json:"error_trace"`
	Extras     map[string]any  `json:"extras"`
	Assertions []jsonAssertion `json:"assertions"`
	Subsamples []*Sample       `json:"subsamples"`
	Path       []PathComponent `json:"path"`
}

// MarshalJSON encodes the whole subtree. Assertions are reported twice: as
// their own list and inside extras under "assertions".
func (s *Sample) MarshalJSON() ([]byte, error) {
	extras := maps.Clone(s.Extras)
	if extras == nil {
		extras = map[string]any{}
	}
	extraAssertions := make([]jsonExtraAssertion, 0, len(s.Assertions))
	assertions := make([]jsonAssertion, 0, len(s.Assertions))
	for _, a := range s.Assertions {
		extraAssertions = append(extraAssertions, jsonExtraAssertion{Name: a.Name, IsFailed: a.Failed, ErrorMessage: a.Message})
		assertions = append(assertions, jsonAssertion{Name: a.Name, Failed: a.Failed, ErrorMsg: a.Message, ErrorTrace: a.Trace})
	}
	extras["assertions"] = extraAssertions

	out := jsonSample{
		TestSuite:  s.TestSuite,
		TestCase:   s.TestCase,
		Status:     s.Status,
		Duration:   s.Duration.Seconds(),
		ErrorMsg:   s.ErrorMessage,
		ErrorTrace: s.ErrorTrace,
		Extras:     extras,
		Assertions: assertions,
		Subsamples: s.Children,
		Path:       s.Path,
	}
	if !s.StartTime.IsZero() {
		out.StartTime = float64(s.StartTime.UnixNano()) / float64(time.Second)
	}
	if out.Subsamples == nil {
		out.Subsamples = []*Sample{}
	}
	if out.Path == nil {
		out.Path = []PathComponent{}
	}
	return json.Marshal(out)
}
