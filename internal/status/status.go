// Package status models the script review lifecycle as the backend reports
// it: one tagged enumeration, explicit wire mapping tables per naming scheme,
// and the display projection (label, timeline position, terminal flag).
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Status is the client's internal lifecycle variant.
type Status uint8

const (
	Unknown Status = iota
	// Submitted is also the awaiting-analysis state: the backend creates
	// every script there.
	Submitted
	InAnalysis
	AwaitingReview
	InReview
	AwaitingApproval
	InApproval
	Approved
	Rejected
)

// MaxPosition is the last timeline position (finalized).
const MaxPosition = 4

var ErrUnmapped = errors.New("unmapped status wire value")

type info struct {
	slug     string
	label    string
	position int
	terminal bool
}

var table = map[Status]info{
	Unknown:          {"unknown", "Unknown status", 0, false},
	Submitted:        {"submitted", "Submitted", 0, false},
	InAnalysis:       {"in-analysis", "In analysis", 1, false},
	AwaitingReview:   {"awaiting-review", "Awaiting review", 2, false},
	InReview:         {"in-review", "In review", 2, false},
	AwaitingApproval: {"awaiting-approval", "Awaiting approval", 3, false},
	InApproval:       {"in-approval", "In approval", 3, false},
	Approved:         {"approved", "Approved", 4, true},
	Rejected:         {"rejected", "Rejected", 4, true},
}

// All lists the recognized variants in lifecycle order.
func All() []Status {
	return []Status{Submitted, InAnalysis, AwaitingReview, InReview, AwaitingApproval, InApproval, Approved, Rejected}
}

func (s Status) String() string {
	if i, ok := table[s]; ok {
		return i.slug
	}
	return table[Unknown].slug
}

func (s Status) Label() string {
	if i, ok := table[s]; ok {
		return i.label
	}
	return table[Unknown].label
}

func (s Status) Position() int { return table[s].position }

func (s Status) IsTerminal() bool { return table[s].terminal }

func (s Status) Known() bool { return s != Unknown && s <= Rejected }

// FromSlug parses the client's own slug form (as printed by String).
func FromSlug(slug string) (Status, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for s, i := range table {
		if s != Unknown && i.slug == slug {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnmapped, slug)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Description is the fixed display tuple for a raw wire value.
type Description struct {
	Raw      string `json:"raw"`
	Status   Status `json:"status"`
	Label    string `json:"label"`
	Position int    `json:"position"`
	Terminal bool   `json:"terminal"`
}

// Mapping translates wire values of one naming scheme into variants.
type Mapping struct {
	Version string
	wire    map[string]Status
	encode  map[Status]string
	Logger  *slog.Logger
}

func newMapping(version string, pairs []wirePair) *Mapping {
	m := &Mapping{Version: version, wire: map[string]Status{}, encode: map[Status]string{}}
	for _, p := range pairs {
		m.wire[p.value] = p.status
		if _, ok := m.encode[p.status]; !ok {
			m.encode[p.status] = p.value
		}
	}
	return m
}

type wirePair struct {
	value  string
	status Status
}

// V1 is the English slug scheme used by the first UI.
var V1 = newMapping("v1", []wirePair{
	{"submitted", Submitted},
	{"pending-analysis", Submitted},
	{"in-analysis", InAnalysis},
	{"pending-review", AwaitingReview},
	{"analysis-approved", AwaitingReview},
	{"approved-for-review", AwaitingReview},
	{"in-review", InReview},
	{"pending-approval", AwaitingApproval},
	{"review-approved", AwaitingApproval},
	{"approved-for-voting", AwaitingApproval},
	{"in-approval", InApproval},
	{"approved", Approved},
	{"rejected", Rejected},
})

// V2 is the backend's enum constant scheme.
var V2 = newMapping("v2", []wirePair{
	{"AGUARDANDO_ANALISE", Submitted},
	{"EM_ANALISE", InAnalysis},
	{"AGUARDANDO_REVISAO", AwaitingReview},
	{"EM_REVISAO", InReview},
	{"AGUARDANDO_APROVACAO", AwaitingApproval},
	{"EM_APROVACAO", InApproval},
	{"APROVADO", Approved},
	{"REJEITADO", Rejected},
	{"RECUSADO", Rejected},
})

// Combined accepts both schemes and encodes with v2.
var Combined = combine("v1+v2", V2, V1)

func combine(version string, ms ...*Mapping) *Mapping {
	out := &Mapping{Version: version, wire: map[string]Status{}, encode: map[Status]string{}}
	for _, m := range ms {
		for k, v := range m.wire {
			if _, ok := out.wire[k]; !ok {
				out.wire[k] = v
			}
		}
		for k, v := range m.encode {
			if _, ok := out.encode[k]; !ok {
				out.encode[k] = v
			}
		}
	}
	return out
}

// ByVersion returns the mapping table named by version ("v1", "v2" or "v1+v2").
func ByVersion(version string) (*Mapping, error) {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "v1":
		return V1, nil
	case "v2", "":
		return V2, nil
	case "v1+v2", "combined":
		return Combined, nil
	default:
		return nil, fmt.Errorf("unknown status mapping version %q", version)
	}
}

// WithLogger returns a copy of m that reports unmapped values to logger.
func (m *Mapping) WithLogger(logger *slog.Logger) *Mapping {
	cp := *m
	cp.Logger = logger
	return &cp
}

func (m *Mapping) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Parse maps a wire value; unmapped values return ErrUnmapped.
func (m *Mapping) Parse(raw string) (Status, error) {
	if s, ok := m.wire[strings.TrimSpace(raw)]; ok {
		return s, nil
	}
	return Unknown, fmt.Errorf("%w: %q (mapping %s)", ErrUnmapped, raw, m.Version)
}

// Describe never fails. Unmapped values describe as Unknown at position 0 and
// are logged as contract drift.
func (m *Mapping) Describe(raw string) Description {
	s, err := m.Parse(raw)
	if err != nil {
		m.logger().Warn("status contract drift", "raw", raw, "mapping", m.Version)
	}
	return Description{
		Raw:      raw,
		Status:   s,
		Label:    s.Label(),
		Position: s.Position(),
		Terminal: s.IsTerminal(),
	}
}

// Wire encodes s in this mapping's scheme.
func (m *Mapping) Wire(s Status) (string, error) {
	if v, ok := m.encode[s]; ok {
		return v, nil
	}
	return "", fmt.Errorf("status %s has no %s wire value", s, m.Version)
}
