package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// configHeader opens every generated configuration file.
const configHeader = `# io-backends Configuration File
#
# Values can be overridden with environment variables using the IOBACKENDS_
# prefix, e.g. IOBACKENDS_BACKEND_ENGINE=mmap or IOBACKENDS_LOGGING_LEVEL=DEBUG.
`

// sectionComments documents each top-level section of the generated file.
var sectionComments = []struct {
	key     string
	comment string
}{
	{"logging", "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)"},
	{"backend", "Backend: namespace root directory and storage engine (posix, mmap, uring).\n" +
		"Only the section of the selected engine is used."},
	{"catalog", "Catalog: records created objects (none, memory, badger)"},
	{"metrics", "Metrics: Prometheus collection for backend operations"},
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced if force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment block per top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping of alternating key and value nodes
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		for _, sc := range sectionComments {
			if sc.key == key.Value {
				key.HeadComment = sc.comment
			}
		}
	}

	var b strings.Builder
	b.WriteString(configHeader)
	b.WriteString("\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return b.String(), nil
}
