package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"worktracker/internal/model"
)

//go:embed rules/transitions.yaml
var defaultTransitions []byte

//go:embed rules/transitions.schema.json
var transitionsSchema string

const transitionsSchemaURL = "https://worktracker.local/schemas/transitions.schema.json"

// StatusSet is the client_status of a rule: one canonical status or a list.
type StatusSet []string

func (s *StatusSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StatusSet{strings.ToUpper(strings.TrimSpace(node.Value))}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(StatusSet, 0, len(list))
		for _, v := range list {
			out = append(out, strings.ToUpper(strings.TrimSpace(v)))
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: client_status must be a string or a list", node.Line)
}

func (s StatusSet) Match(status string) bool {
	return slices.Contains(s, status)
}

// Rule is one entry of the transition table, with its names resolved.
type Rule struct {
	Name                 string          `yaml:"name"`
	From                 model.UserState `yaml:"from"`
	To                   model.UserState `yaml:"to"`
	ClientStatus         StatusSet       `yaml:"client_status"`
	Conditions           []string        `yaml:"conditions"`
	Callbacks            []string        `yaml:"callbacks"`
	RequiresConfirmation bool            `yaml:"requires_confirmation"`
	Priority             *int            `yaml:"priority"`

	conditions []Condition
	actions    []Action
	weight     int
}

func (r *Rule) String() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s->%s", r.From, r.To)
}

// Weight is the priority the rule is sorted by.
func (r *Rule) Weight() int { return r.weight }

// ConfigError describes one problem found while loading a transition table.
type ConfigError struct {
	Rule  int // zero based, -1 for document level problems
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Rule < 0 {
		return "transition table: " + e.Msg
	}
	if e.Field == "" {
		return fmt.Sprintf("transition table rule %d: %s", e.Rule, e.Msg)
	}
	return fmt.Sprintf("transition table rule %d: %s: %s", e.Rule, e.Field, e.Msg)
}

// DefaultRules loads the built-in transition table.
func DefaultRules(reg *Registry) ([]*Rule, error) {
	return LoadRules(defaultTransitions, reg)
}

// LoadRulesFile loads the transition table at path, or the built-in table
// when path is empty.
func LoadRulesFile(path string, reg *Registry) ([]*Rule, error) {
	if path == "" {
		return DefaultRules(reg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transition table: %w", err)
	}
	return LoadRules(data, reg)
}

// LoadRules parses, validates and priority-sorts a transition table. Every
// problem is reported; any problem is fatal.
func LoadRules(data []byte, reg *Registry) ([]*Rule, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var rules []*Rule
	if err := dec.Decode(&rules); err != nil {
		return nil, &ConfigError{Rule: -1, Msg: err.Error()}
	}

	var errs []error
	for i, r := range rules {
		errs = append(errs, resolve(i, r, reg)...)
		errs = append(errs, checkShape(i, r)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, r := range rules {
		r.weight = Priority(r.From, r.To)
		if r.Priority != nil {
			r.weight = *r.Priority
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].weight > rules[j].weight })
	return rules, nil
}

func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &ConfigError{Rule: -1, Msg: fmt.Sprintf("parse yaml: %v", err)}
	}
	// Round trip through JSON so the validator sees plain JSON types.
	buf, err := json.Marshal(raw)
	if err != nil {
		return &ConfigError{Rule: -1, Msg: fmt.Sprintf("convert to json: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return &ConfigError{Rule: -1, Msg: fmt.Sprintf("convert to json: %v", err)}
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(transitionsSchemaURL, strings.NewReader(transitionsSchema)); err != nil {
		return fmt.Errorf("load transition schema: %w", err)
	}
	schema, err := c.Compile(transitionsSchemaURL)
	if err != nil {
		return fmt.Errorf("compile transition schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return &ConfigError{Rule: -1, Msg: err.Error()}
	}
	return nil
}

func resolve(i int, r *Rule, reg *Registry) []error {
	var errs []error
	if !r.From.Valid() {
		errs = append(errs, &ConfigError{Rule: i, Field: "from", Msg: fmt.Sprintf("unknown state %q", r.From)})
	}
	if !r.To.Valid() {
		errs = append(errs, &ConfigError{Rule: i, Field: "to", Msg: fmt.Sprintf("unknown state %q", r.To)})
	}
	r.conditions = r.conditions[:0]
	for _, name := range r.Conditions {
		c, ok := reg.Condition(name)
		if !ok {
			errs = append(errs, &ConfigError{Rule: i, Field: "conditions", Msg: fmt.Sprintf("unregistered condition %q", name)})
			continue
		}
		r.conditions = append(r.conditions, c)
	}
	r.actions = r.actions[:0]
	for _, name := range r.Callbacks {
		a, ok := reg.Action(name)
		if !ok {
			errs = append(errs, &ConfigError{Rule: i, Field: "callbacks", Msg: fmt.Sprintf("unregistered callback %q", name)})
			continue
		}
		r.actions = append(r.actions, a)
	}
	return errs
}

// checkShape rejects rules whose callbacks cannot leave the user in the
// target state, such as entering a break without opening one.
func checkShape(i int, r *Rule) []error {
	if !r.From.Valid() || !r.To.Valid() || r.From == r.To {
		return nil
	}
	has := func(names ...string) bool {
		for _, n := range names {
			if slices.Contains(r.Callbacks, n) {
				return true
			}
		}
		return false
	}
	var errs []error
	fail := func(msg string) {
		errs = append(errs, &ConfigError{Rule: i, Field: "callbacks", Msg: msg})
	}

	switch {
	case r.From == model.StateShortBreak && r.To == model.StateExtendedBreak:
		if !has("extend_break") {
			fail("SHORT_BREAK -> EXTENDED_BREAK needs extend_break")
		}
	case r.To.IsBreak() && !r.From.IsBreak():
		if !has("start_break") {
			fail(fmt.Sprintf("entering %s needs start_break", r.To))
		}
	case r.From.IsBreak() && !r.To.IsBreak():
		if !has("end_break", "end_work") {
			fail(fmt.Sprintf("leaving %s needs end_break or end_work", r.From))
		}
	}
	if r.To == model.StateOffline && r.From != model.StateOnLeave && !has("end_work") {
		fail("entering OFFLINE needs end_work")
	}
	if r.From == model.StateOffline && r.To.RequiresCheckIn() &&
		!has("start_work", "start_holiday_work", "begin_unauthorized_absence") {
		fail(fmt.Sprintf("OFFLINE -> %s needs start_work, start_holiday_work or begin_unauthorized_absence", r.To))
	}
	return errs
}
