package infra

import (
	"errors"
	"fmt"
	"io"
	"os"

	specs "github.com/chrisconley/rhizome/specs"
	"gopkg.in/yaml.v3"
)

// ErrEmptyConfig reports a configuration document with no content.
var ErrEmptyConfig = errors.New("config: document is empty")

// LoadConfig reads the YAML configuration at path. Unknown keys are errors;
// defaults and semantic checks are applied by the domain constructors.
func LoadConfig(path string) (specs.AppConfigSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return specs.AppConfigSpec{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := ParseConfig(f)
	if err != nil {
		return specs.AppConfigSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(r io.Reader) (specs.AppConfigSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg specs.AppConfigSpec
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return specs.AppConfigSpec{}, ErrEmptyConfig
		}
		return specs.AppConfigSpec{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
