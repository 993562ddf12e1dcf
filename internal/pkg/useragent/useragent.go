// Package useragent classifies user-agent strings into browser,
// operating system and device class, and flags known bots. Rules are a
// curated regex database embedded at build time; patterns use PCRE
// because several rely on lookaround.
package useragent

import (
	_ "embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yml
var rulesFile []byte

// UserAgent is the classification of one user-agent string.
type UserAgent struct {
	UserAgent string
	Browser   string
	OS        string
	Device    string
	Bot       bool
}

type namedRule struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

type deviceRule struct {
	Regex  string `yaml:"regex"`
	Device string `yaml:"device"`
}

type botRule struct {
	Regex string `yaml:"regex"`
}

type ruleSet struct {
	Browsers []namedRule  `yaml:"browsers"`
	OSs      []namedRule  `yaml:"oss"`
	Devices  []deviceRule `yaml:"devices"`
	Bots     []botRule    `yaml:"bots"`
}

type compiledRule struct {
	pattern *pcre.Regexp
	name    string
}

type parser struct {
	browsers []compiledRule
	oss      []compiledRule
	devices  []compiledRule
	bots     []*pcre.Regexp
}

var (
	defaultParser *parser
	parserOnce    sync.Once
	parserErr     error
)

func loadParser() (*parser, error) {
	parserOnce.Do(func() {
		var rules ruleSet
		if err := yaml.Unmarshal(rulesFile, &rules); err != nil {
			parserErr = fmt.Errorf("failed to parse user agent rules: %w", err)
			return
		}

		p := &parser{}
		for _, rule := range rules.Browsers {
			compiled, err := pcre.Compile(rule.Regex)
			if err != nil {
				parserErr = fmt.Errorf("bad browser rule %q: %w", rule.Regex, err)
				return
			}
			p.browsers = append(p.browsers, compiledRule{pattern: compiled, name: rule.Name})
		}
		for _, rule := range rules.OSs {
			compiled, err := pcre.Compile(rule.Regex)
			if err != nil {
				parserErr = fmt.Errorf("bad os rule %q: %w", rule.Regex, err)
				return
			}
			p.oss = append(p.oss, compiledRule{pattern: compiled, name: rule.Name})
		}
		for _, rule := range rules.Devices {
			compiled, err := pcre.Compile(rule.Regex)
			if err != nil {
				parserErr = fmt.Errorf("bad device rule %q: %w", rule.Regex, err)
				return
			}
			p.devices = append(p.devices, compiledRule{pattern: compiled, name: rule.Device})
		}
		for _, rule := range rules.Bots {
			compiled, err := pcre.Compile(rule.Regex)
			if err != nil {
				parserErr = fmt.Errorf("bad bot rule %q: %w", rule.Regex, err)
				return
			}
			p.bots = append(p.bots, compiled)
		}
		defaultParser = p
	})
	return defaultParser, parserErr
}

// Parse classifies a user-agent string. Rules apply first-match, so
// more specific patterns sort first in the database.
func Parse(userAgent string) (*UserAgent, error) {
	p, err := loadParser()
	if err != nil {
		return nil, err
	}

	result := &UserAgent{
		UserAgent: userAgent,
		Browser:   "Unknown",
		OS:        "Unknown",
		Device:    "desktop",
	}

	for _, bot := range p.bots {
		if bot.MatchString(userAgent) {
			result.Bot = true
			return result, nil
		}
	}

	for _, rule := range p.browsers {
		if rule.pattern.MatchString(userAgent) {
			result.Browser = rule.name
			break
		}
	}
	for _, rule := range p.oss {
		if rule.pattern.MatchString(userAgent) {
			result.OS = rule.name
			break
		}
	}
	for _, rule := range p.devices {
		if rule.pattern.MatchString(userAgent) {
			result.Device = rule.name
			break
		}
	}

	return result, nil
}
