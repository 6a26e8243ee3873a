package syncer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("syncer: invalid config")

// InputConfig is one batch-file glob received from a peer.
type InputConfig struct {
	Source   string `yaml:"source"`
	Glob     string `yaml:"glob"`
	ErrorDir string `yaml:"error_dir"`
}

// InputsConfig accepts either the mapping form (preferred):
//
//	inputs:
//	  laptop: /var/sync/laptop/*.json
//	  phone:  {glob: /var/sync/phone/**/*.jsonl, error_dir: /var/sync/bad}
//
// or the list form:
//
//	inputs:
//	  - source: laptop
//	    glob: /var/sync/laptop/*.json
type InputsConfig struct {
	Items []InputConfig
}

func (f *InputsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]InputConfig, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			source := strings.TrimSpace(k.Value)
			if source == "" {
				continue
			}
			switch v.Kind {
			case yaml.ScalarNode:
				glob := strings.TrimSpace(v.Value)
				if glob == "" {
					continue
				}
				items = append(items, InputConfig{Source: source, Glob: glob})
			case yaml.MappingNode:
				var tmp struct {
					Glob     string `yaml:"glob"`
					ErrorDir string `yaml:"error_dir"`
				}
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				if strings.TrimSpace(tmp.Glob) == "" {
					continue
				}
				items = append(items, InputConfig{Source: source, Glob: strings.TrimSpace(tmp.Glob), ErrorDir: strings.TrimSpace(tmp.ErrorDir)})
			default:
				continue
			}
		}
		f.Items = items
		return nil
	case yaml.SequenceNode:
		var items []InputConfig
		if err := value.Decode(&items); err != nil {
			return err
		}
		f.Items = items
		return nil
	default:
		return nil
	}
}

type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

type BacklogConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type FileConfig struct {
	Database string `yaml:"database"`
	Job      string `yaml:"job"`
	Debug    bool   `yaml:"debug"`

	// When true (default), batch files are deleted once every entry has been stored.
	DeleteAfterProcess *bool `yaml:"delete_after_process"`

	Inputs      InputsConfig  `yaml:"inputs"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`

	Fetch   FetchConfig   `yaml:"fetch"`
	Backlog BacklogConfig `yaml:"backlog"`

	// Optional RFC 5424 collector for per-run reports.
	ReportAddr string `yaml:"report_addr"`
	// Optional listen address for the status RPC server.
	StatusAddr   string        `yaml:"status_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}
