package sla

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

func minutes(n int) *int { return &n }

// DefaultRules is the seed matrix used when no rules file or stored table exists.
func DefaultRules() []Rule {
	return []Rule{
		{Priority: domain.TicketPriorityCritical, ResponseTime: 30, ResolutionTime: 240, RCATime: minutes(1440), Availability: "24x7"},
		{Priority: domain.TicketPriorityMajor, ResponseTime: 60, ResolutionTime: 480, RCATime: minutes(2880), Availability: "24x7"},
		{Priority: domain.TicketPriorityMinor, ResponseTime: 240, ResolutionTime: 1440, Availability: "business-hours"},
		{Priority: domain.TicketPriorityRequest, ResponseTime: 480, ResolutionTime: 4320, Availability: "business-hours"},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads a YAML document of the form:
//
//	rules:
//	  - priority: CRITICAL
//	    responseTime: 30
//	    resolutionTime: 240
//	    rcaTime: 1440
//	    availability: 24x7
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes the YAML rules document.
func ParseRules(raw []byte) ([]Rule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse sla rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("parse sla rules: no rules defined")
	}
	return doc.Rules, nil
}
