package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ConditionKind tags the variant held by a Condition.
type ConditionKind uint8

const (
	KindAny ConditionKind = iota + 1
	KindAtLeast
	KindRequireValue
)

func (k ConditionKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindAtLeast:
		return "at_least"
	case KindRequireValue:
		return "require_value"
	default:
		return "invalid"
	}
}

// requireValuePrefix is the explicit form of a RequireValue token ("r:<value>").
const requireValuePrefix = "r:"

// Condition is a single-channel trigger condition evaluated against the number of
// messages that arrived on the channel since the owning rule-set last fired.
type Condition struct {
	kind  ConditionKind
	n     uint64
	value string
}

// Any holds once at least one new message arrived.
func Any() Condition {
	return Condition{kind: KindAny, n: 1}
}

// AtLeast holds once n or more new messages arrived. n must be >= 1.
func AtLeast(n uint64) (Condition, error) {
	if n < 1 {
		return Condition{}, fmt.Errorf("%w: at-least condition requires n >= 1, got %d", ErrConfiguration, n)
	}
	return Condition{kind: KindAtLeast, n: n}, nil
}

// RequireValue holds once a new message arrived and the channel's latest value,
// rendered with FormatValue, equals v.
func RequireValue(v string) Condition {
	return Condition{kind: KindRequireValue, n: 1, value: v}
}

// ParseCondition turns a configuration token into a Condition:
// "*" is Any, a positive integer is AtLeast(n), "r:<v>" or any other literal is
// RequireValue. Surrounding whitespace is ignored.
func ParseCondition(token string) (Condition, error) {
	t := strings.TrimSpace(token)
	switch {
	case t == "":
		return Condition{}, fmt.Errorf("%w: empty condition token", ErrConfiguration)
	case t == "*":
		return Any(), nil
	case isDigits(t):
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: condition token %q: %v", ErrConfiguration, token, err)
		}
		return AtLeast(n)
	case strings.HasPrefix(t, requireValuePrefix):
		v := t[len(requireValuePrefix):]
		if v == "" {
			return Condition{}, fmt.Errorf("%w: condition token %q has no value", ErrConfiguration, token)
		}
		return RequireValue(v), nil
	default:
		return RequireValue(t), nil
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func (c Condition) Kind() ConditionKind { return c.kind }

// Threshold is the number of new arrivals the condition needs.
func (c Condition) Threshold() uint64 { return c.n }

// Value is the expected value of a RequireValue condition.
func (c Condition) Value() string { return c.value }

func (c Condition) valid() bool {
	return c.kind >= KindAny && c.kind <= KindRequireValue && c.n >= 1
}

// Satisfied reports whether the condition holds for delta new arrivals and the
// channel's latest value.
func (c Condition) Satisfied(delta uint64, latest any) bool {
	switch c.kind {
	case KindAny, KindAtLeast:
		return delta >= c.n
	case KindRequireValue:
		return delta >= 1 && FormatValue(latest) == c.value
	default:
		return false
	}
}

// String returns the configuration token for c.
func (c Condition) String() string {
	switch c.kind {
	case KindAny:
		return "*"
	case KindAtLeast:
		return strconv.FormatUint(c.n, 10)
	case KindRequireValue:
		return requireValuePrefix + c.value
	default:
		return "<invalid>"
	}
}

// RuleSet is a conjunction of per-channel conditions. Channels are kept sorted so
// evaluation and diagnostics are deterministic.
type RuleSet struct {
	channels []string
	conds    []Condition
}

// NewRuleSet builds a rule-set. An empty rule-set would fire on nothing and is rejected.
func NewRuleSet(conds map[string]Condition) (RuleSet, error) {
	if len(conds) == 0 {
		return RuleSet{}, fmt.Errorf("%w: rule-set has no conditions", ErrConfiguration)
	}
	channels := make([]string, 0, len(conds))
	for ch, c := range conds {
		if ch == "" {
			return RuleSet{}, fmt.Errorf("%w: rule-set references an empty channel name", ErrConfiguration)
		}
		if !c.valid() {
			return RuleSet{}, fmt.Errorf("%w: invalid condition for channel %q", ErrConfiguration, ch)
		}
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	rs := RuleSet{
		channels: channels,
		conds:    make([]Condition, len(channels)),
	}
	for i, ch := range channels {
		rs.conds[i] = conds[ch]
	}
	return rs, nil
}

// ParseRuleSet builds a rule-set from channel -> token pairs.
func ParseRuleSet(raw map[string]string) (RuleSet, error) {
	conds := make(map[string]Condition, len(raw))
	for ch, tok := range raw {
		c, err := ParseCondition(tok)
		if err != nil {
			return RuleSet{}, fmt.Errorf("channel %q: %w", ch, err)
		}
		conds[ch] = c
	}
	return NewRuleSet(conds)
}

func (r RuleSet) Len() int { return len(r.channels) }

// At returns the i-th channel (in sorted order) and its condition.
func (r RuleSet) At(i int) (string, Condition) {
	return r.channels[i], r.conds[i]
}

// Condition looks up the condition for a channel.
func (r RuleSet) Condition(channel string) (Condition, bool) {
	i := sort.SearchStrings(r.channels, channel)
	if i < len(r.channels) && r.channels[i] == channel {
		return r.conds[i], true
	}
	return Condition{}, false
}

// Channels returns a copy of the referenced channels.
func (r RuleSet) Channels() []string {
	return append([]string(nil), r.channels...)
}

// Tokens renders the rule-set back into its configuration form.
func (r RuleSet) Tokens() map[string]string {
	out := make(map[string]string, len(r.channels))
	for i, ch := range r.channels {
		out[ch] = r.conds[i].String()
	}
	return out
}

func (r RuleSet) String() string {
	parts := make([]string, len(r.channels))
	for i, ch := range r.channels {
		parts[i] = ch + ":" + r.conds[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// RuleExpression is a disjunction of rule-sets, evaluated in declared order.
type RuleExpression []RuleSet

// ParseRuleExpression builds an expression from its configuration form: a list of
// rule-sets, each a mapping from channel name to condition token.
func ParseRuleExpression(raw []map[string]string) (RuleExpression, error) {
	expr := make(RuleExpression, 0, len(raw))
	for i, set := range raw {
		rs, err := ParseRuleSet(set)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		expr = append(expr, rs)
	}
	return expr, nil
}

// Validate checks that every referenced channel is one of inputs.
func (e RuleExpression) Validate(inputs []string) error {
	declared := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		declared[in] = struct{}{}
	}
	for i, rs := range e {
		if rs.Len() == 0 {
			return fmt.Errorf("%w: rule %d is empty", ErrConfiguration, i)
		}
		for _, ch := range rs.channels {
			if _, ok := declared[ch]; !ok {
				return fmt.Errorf("%w: rule %d references channel %q which is not a declared input", ErrConfiguration, i, ch)
			}
		}
	}
	return nil
}

// Channels returns the sorted union of channels referenced by any rule-set.
func (e RuleExpression) Channels() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rs := range e {
		for _, ch := range rs.channels {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

func (e RuleExpression) String() string {
	parts := make([]string, len(e))
	for i, rs := range e {
		parts[i] = rs.String()
	}
	return strings.Join(parts, " | ")
}

// AnyOf builds one Any rule-set per channel, so a message on any of them fires.
func AnyOf(channels ...string) RuleExpression {
	expr := make(RuleExpression, 0, len(channels))
	for _, ch := range channels {
		expr = append(expr, RuleSet{channels: []string{ch}, conds: []Condition{Any()}})
	}
	return expr
}
