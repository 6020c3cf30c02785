package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hebaghazali/portl/pkg/errors"
)

// LoadJob reads a job file, substitutes ${VAR} environment references,
// parses the YAML, and applies defaults. Validation is left to the caller
// so it can collect all violations in one pass.
func LoadJob(filePath string) (*Job, []string, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the CLI user
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig,
			"failed to read job file").WithDetail("path", filePath)
	}

	content := substituteEnvVars(string(data))

	var job Job
	if err := yaml.Unmarshal([]byte(content), &job); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig,
			"failed to parse job file").WithDetail("path", filePath)
	}

	warnings := job.ApplyDefaults()
	return &job, warnings, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
