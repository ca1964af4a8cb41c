package timelock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// profilesDoc is the on-disk shape of a timelock profile file.
type profilesDoc struct {
	Profiles map[string]windowDoc `yaml:"profiles"`
}

// windowDoc carries durations as strings ("10s", "5m") so operators can
// write profiles by hand.
type windowDoc struct {
	FinalityLock        string `yaml:"finality_lock"`
	ExclusiveWithdrawal string `yaml:"exclusive_withdrawal"`
	PublicWithdrawal    string `yaml:"public_withdrawal"`
	Cancellation        string `yaml:"cancellation"`
	PublicCancellation  string `yaml:"public_cancellation"`
}

func (d windowDoc) window() (Window, error) {
	parse := func(name, v string) (time.Duration, error) {
		if v == "" {
			return 0, fmt.Errorf("missing offset %q", name)
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse offset %q: %w", name, err)
		}
		return dur, nil
	}

	var w Window
	var err error
	if w.FinalityLock, err = parse("finality_lock", d.FinalityLock); err != nil {
		return Window{}, err
	}
	if w.ExclusiveWithdrawal, err = parse("exclusive_withdrawal", d.ExclusiveWithdrawal); err != nil {
		return Window{}, err
	}
	if w.PublicWithdrawal, err = parse("public_withdrawal", d.PublicWithdrawal); err != nil {
		return Window{}, err
	}
	if w.Cancellation, err = parse("cancellation", d.Cancellation); err != nil {
		return Window{}, err
	}
	if w.PublicCancellation, err = parse("public_cancellation", d.PublicCancellation); err != nil {
		return Window{}, err
	}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// LoadProfiles reads named timelock windows from a YAML file. Every window
// in the file is validated; one bad profile fails the whole load.
func LoadProfiles(path string) (map[string]Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load timelock profiles: %w", err)
	}

	var doc profilesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse timelock profiles: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined in %s", path)
	}

	windows := make(map[string]Window, len(doc.Profiles))
	for name, d := range doc.Profiles {
		w, err := d.window()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		windows[name] = w
	}
	return windows, nil
}
