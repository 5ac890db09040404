package orchestrator

import (
	"fmt"
	"time"

	"github.com/edukz/vagas-scrapy-sub001/alerts"
	"github.com/edukz/vagas-scrapy-sub001/config"
	"github.com/edukz/vagas-scrapy-sub001/fetcher"
	"github.com/edukz/vagas-scrapy-sub001/selectors"
)

// severityFromString maps a config string to alerts.Severity, defaulting to
// SeverityLow for an unrecognized or empty value.
func severityFromString(s string) alerts.Severity {
	switch s {
	case "medium":
		return alerts.SeverityMedium
	case "high":
		return alerts.SeverityHigh
	case "critical":
		return alerts.SeverityCritical
	default:
		return alerts.SeverityLow
	}
}

func comparatorFromString(s string) alerts.Comparator {
	switch s {
	case "lt":
		return alerts.ComparatorLT
	case "eq":
		return alerts.ComparatorEQ
	default:
		return alerts.ComparatorGT
	}
}

// buildChannels constructs one alerts.Channel per enabled entry in cfgs,
// in the teacher's config-driven-factory style (spec §6 "Channel config").
func buildChannels(cfgs []config.ChannelConfig) ([]alerts.Channel, error) {
	var out []alerts.Channel
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		minSev := severityFromString(c.MinSeverity)
		switch c.Kind {
		case "console":
			out = append(out, alerts.NewConsoleChannel(minSev))
		case "file":
			if c.Path == "" {
				return nil, fmt.Errorf("file channel requires a path")
			}
			out = append(out, alerts.NewFileChannel(c.Path, minSev))
		case "webhook":
			if c.URL == "" {
				return nil, fmt.Errorf("webhook channel requires a url")
			}
			out = append(out, alerts.NewWebhookChannel(c.URL, minSev, c.Timeout))
		case "slack":
			if c.URL == "" {
				return nil, fmt.Errorf("slack channel requires a url")
			}
			out = append(out, alerts.NewSlackChannel(c.URL, minSev))
		case "smtp":
			out = append(out, alerts.NewSMTPChannel(c.URL, "", nil, nil, minSev))
		default:
			return nil, fmt.Errorf("unknown alert channel kind %q", c.Kind)
		}
	}
	return out, nil
}

func channelNames(channels []alerts.Channel) []string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = c.Name()
	}
	return names
}

// buildRules translates the config's declarative rule list into alerts.Rule
// values.
func buildRules(cfgs []config.AlertRuleConfig) []*alerts.Rule {
	var out []*alerts.Rule
	for _, c := range cfgs {
		out = append(out, &alerts.Rule{
			Name: c.Name, MetricName: c.MetricName, Comparator: comparatorFromString(c.Comparator),
			Threshold: c.Threshold, Severity: severityFromString(c.Severity), Cooldown: c.Cooldown,
			EscalationAfter: c.EscalationAfter, EscalationSeverity: severityFromString(c.EscalationSeverity),
			Enabled: c.Enabled, Channels: c.Channels,
		})
	}
	return out
}

// DefaultAlertRules mirrors the rule set spec §4.2/§4.3 names as the
// baseline thresholds every deployment starts from, fanning out to every
// registered channel.
func DefaultAlertRules(channels []string) []*alerts.Rule {
	return []*alerts.Rule{
		{
			Name: "high_error_rate", MetricName: "scraper.error_rate", Comparator: alerts.ComparatorGT,
			Threshold: 0.3, Severity: alerts.SeverityHigh, Cooldown: 5 * time.Minute,
			EscalationAfter: 30 * time.Minute, EscalationSeverity: alerts.SeverityCritical,
			Enabled: true, Channels: channels,
		},
		{
			Name: "circuit_breaker_opened", MetricName: "circuit_breaker.opens", Comparator: alerts.ComparatorGT,
			Threshold: 0, Severity: alerts.SeverityMedium, Cooldown: time.Minute,
			Enabled: true, Channels: channels,
		},
		{
			Name: "pool_exhaustion", MetricName: "scraper.pool_timeouts", Comparator: alerts.ComparatorGT,
			Threshold: 3, Severity: alerts.SeverityHigh, Cooldown: 5 * time.Minute,
			Enabled: true, Channels: channels,
		},
		{
			Name: "low_extraction_rate", MetricName: "fallback.fallback_level", Comparator: alerts.ComparatorGT,
			Threshold: 2, Severity: alerts.SeverityMedium, Cooldown: 10 * time.Minute,
			Enabled: true, Channels: channels,
		},
	}
}

// ContainerSelector is the default CSS selector naming one job card on a
// listing page, matching the field-level selectors DefaultExtractor wires
// for a generic Brazilian job board (spec §8's worked example).
func ContainerSelector() string { return "article.job, div.job-card, li.vaga" }

// DefaultExtractor builds the ordered, multi-strategy field set spec §4.7
// and §8 describe: per field, an ordered chain of one to three CSS,
// attribute or XPath strategies, each scored independently as the run
// progresses.
func DefaultExtractor() *selectors.Extractor {
	ex := selectors.NewExtractor()

	ex.Register("title", selectors.NewField(selectors.ValidateNonEmpty,
		&selectors.Strategy{Expression: "h2.job-title, h2.title", Kind: selectors.KindCSS, BaseConfidence: 0.9},
		&selectors.Strategy{Expression: "h3", Kind: selectors.KindCSS, BaseConfidence: 0.6},
		&selectors.Strategy{Expression: ".//h2", Kind: selectors.KindXPath, BaseConfidence: 0.5},
	))

	ex.Register("link", selectors.NewField(selectors.ValidateJobLink,
		&selectors.Strategy{Expression: "a.job-link", Kind: selectors.KindAttribute, AttributeName: "href", BaseConfidence: 0.9},
		&selectors.Strategy{Expression: "a", Kind: selectors.KindAttribute, AttributeName: "href", BaseConfidence: 0.5},
	))

	ex.Register("company", selectors.NewField(selectors.ValidateNonEmpty,
		&selectors.Strategy{Expression: ".company-name, span.company", Kind: selectors.KindCSS, BaseConfidence: 0.85},
		&selectors.Strategy{Expression: ".//span[@class='empresa']", Kind: selectors.KindXPath, BaseConfidence: 0.5},
	))

	ex.Register("location", selectors.NewField(selectors.ValidateNonEmpty,
		&selectors.Strategy{Expression: ".location, span.local", Kind: selectors.KindCSS, BaseConfidence: 0.8},
	))

	ex.Register("description", selectors.NewField(nil,
		&selectors.Strategy{Expression: ".description, .job-description", Kind: selectors.KindCSS, BaseConfidence: 0.7},
	))

	ex.Register("salary", selectors.NewField(selectors.ValidateSalary,
		&selectors.Strategy{Expression: ".salary, span.salario", Kind: selectors.KindCSS, BaseConfidence: 0.7},
	))

	ex.Register("requirements", selectors.NewField(nil,
		&selectors.Strategy{Expression: ".requirements", Kind: selectors.KindCSS, BaseConfidence: 0.6},
	))

	ex.Register("benefits", selectors.NewField(nil,
		&selectors.Strategy{Expression: ".benefits", Kind: selectors.KindCSS, BaseConfidence: 0.6},
	))

	ex.Register("experience", selectors.NewField(nil,
		&selectors.Strategy{Expression: ".experience-level", Kind: selectors.KindCSS, BaseConfidence: 0.6},
	))

	ex.Register("work_mode", selectors.NewField(nil,
		&selectors.Strategy{Expression: ".work-mode, .modalidade", Kind: selectors.KindCSS, BaseConfidence: 0.6},
	))

	ex.Register("publish_date", selectors.NewField(nil,
		&selectors.Strategy{Expression: "time", Kind: selectors.KindAttribute, AttributeName: "datetime", BaseConfidence: 0.7},
		&selectors.Strategy{Expression: ".publish-date", Kind: selectors.KindCSS, BaseConfidence: 0.5},
	))

	return ex
}

// DefaultContainerKind is the ElementKind ContainerSelector is evaluated
// with (CSS).
func DefaultContainerKind() fetcher.ElementKind { return fetcher.KindCSS }
