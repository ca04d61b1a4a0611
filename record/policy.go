package record

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Policy decides which channels get captured. Either every channel is captured
// (capture-all) or only channels on the allow-list: exact names plus glob
// patterns compiled with '/' as the separator, so "/sensor/*" matches
// "/sensor/lidar" but not "/sensor/lidar/compensated".
type Policy struct {
	all   bool
	names map[string]struct{}
	globs []glob.Glob
}

// NewPolicy creates a channel selection policy. Capture-all and an allow-list
// are mutually exclusive.
func NewPolicy(allChannels bool, channels, patterns []string) (*Policy, error) {
	if allChannels && (len(channels) > 0 || len(patterns) > 0) {
		return nil, fmt.Errorf("capture-all policy cannot carry an allow-list")
	}

	p := &Policy{
		all:   allChannels,
		names: make(map[string]struct{}, len(channels)),
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, name := range channels {
		p.names[name] = struct{}{}
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid channel pattern %q: %w", pattern, err)
		}
		p.globs = append(p.globs, g)
	}

	return p, nil
}

// CaptureAll reports whether every channel matches.
func (p *Policy) CaptureAll() bool {
	return p.all
}

// Match returns true if the channel should be captured.
func (p *Policy) Match(name string) bool {
	if p.all {
		return true
	}

	if _, ok := p.names[name]; ok {
		return true
	}

	for _, g := range p.globs {
		if g.Match(name) {
			return true
		}
	}

	return false
}
