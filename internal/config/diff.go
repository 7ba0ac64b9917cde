package config

import "reflect"

// ConfigDiff describes what changed between two configs. Changes that can be
// applied to a running pipeline are reported field by field; everything else
// is listed in RestartRequired by section name.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SensitivityChanged bool
	NewSensitivity     float64

	AcceptanceChanged bool
	NewAcceptance     float64

	// RestartRequired names the top-level sections with changes that only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SensitivityChanged || d.AcceptanceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Wake.Sensitivity != new.Wake.Sensitivity {
		d.SensitivityChanged = true
		d.NewSensitivity = new.Wake.Sensitivity
	}
	if oa, na := old.Recognition.Acceptance(), new.Recognition.Acceptance(); oa != na {
		d.AcceptanceChanged = true
		d.NewAcceptance = na
	}

	// Compare each section with its live fields masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Wake.Sensitivity, n.Wake.Sensitivity = 0, 0
	o.Recognition.AcceptanceConfidence, n.Recognition.AcceptanceConfidence = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"audio", o.Audio, n.Audio},
		{"wake", o.Wake, n.Wake},
		{"recognition", o.Recognition, n.Recognition},
		{"capture", o.Capture, n.Capture},
		{"skills", o.Skills, n.Skills},
		{"response", o.Response, n.Response},
		{"journal", o.Journal, n.Journal},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
