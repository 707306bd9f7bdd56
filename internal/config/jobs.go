package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"driftd/pkg/drift"
)

// Job describes one probe schedule from the jobs file.
type Job struct {
	Name         string        `yaml:"name" validate:"required"`
	Schedule     string        `yaml:"schedule" validate:"required"`
	URL          string        `yaml:"url" validate:"required,url"`
	Method       string        `yaml:"method" validate:"omitempty,oneof=GET HEAD POST PUT"`
	ExpectStatus int           `yaml:"expect_status" validate:"omitempty,min=100,max=599"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	Policy       string        `yaml:"policy" validate:"omitempty,oneof=continue cancel"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	Retries      int           `yaml:"retries" validate:"gte=0,lte=10"`

	// Filled by LoadJobs.
	Parsed        Schedule            `yaml:"-"`
	FailurePolicy drift.FailurePolicy `yaml:"-"`
}

type jobsFile struct {
	Jobs []Job `yaml:"jobs" validate:"dive"`
}

// LoadJobs reads and validates the jobs file at path.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	jobs, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// ParseJobs decodes jobs YAML, applies defaults and validates every entry.
// Errors name the offending job.
func ParseJobs(data []byte) ([]Job, error) {
	var f jobsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.applyDefaults()

		if err := validate.Struct(j); err != nil {
			return nil, fmt.Errorf("job %d (%q): %w", i, j.Name, err)
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("job %q: duplicate name", j.Name)
		}
		seen[j.Name] = struct{}{}

		sched, err := ParseSchedule(j.Schedule)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
		j.Parsed = sched

		if j.FailurePolicy, err = drift.ParseFailurePolicy(j.Policy); err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
	}
	return f.Jobs, nil
}

func (j *Job) applyDefaults() {
	j.Name = strings.TrimSpace(j.Name)
	j.Method = strings.ToUpper(strings.TrimSpace(j.Method))
	if j.Method == "" {
		j.Method = http.MethodGet
	}
	if j.ExpectStatus == 0 {
		j.ExpectStatus = http.StatusOK
	}
	if j.Timeout == 0 {
		j.Timeout = 10 * time.Second
	}
}
