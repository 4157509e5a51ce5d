package flagext

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ConfigFiles is a list of YAML config files, loaded in order.
type ConfigFiles []string

// String implements flag.Value
// Format: file1.yaml,file2.yaml
func (cfgFiles *ConfigFiles) String() string {
	return strings.Join(*cfgFiles, ",")
}

// Set implements flag.Value
func (cfgFiles *ConfigFiles) Set(value string) error {
	*cfgFiles = append(*cfgFiles, value)
	return nil
}

// Load strictly unmarshals every file into dst. Values of later files
// override earlier ones. With expandEnv, ${VAR} references are replaced by
// environment variables before parsing.
func (cfgFiles ConfigFiles) Load(dst interface{}, expandEnv bool) error {
	for _, file := range cfgFiles {
		buf, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrap(err, "Error reading config file")
		}
		if expandEnv {
			buf = []byte(os.ExpandEnv(string(buf)))
		}
		if err := yaml.UnmarshalStrict(buf, dst); err != nil {
			return errors.Wrapf(err, "Error parsing config file %s", file)
		}
	}
	return nil
}
