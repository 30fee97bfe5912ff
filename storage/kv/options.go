package kv

import (
	"fmt"
	"os"
	"time"
)

const (
	// OptionPath is the filesystem path of the environment
	OptionPath = "path"
	// OptionMode is the permission bits used for files the driver creates
	OptionMode = "mode"
	// OptionMapSize is the size of the memory map in bytes
	OptionMapSize = "map_size"
	// OptionMaxDatabases is the maximum number of named databases
	OptionMaxDatabases = "max_databases"
	// OptionMaxReaders is the maximum number of concurrent read transactions
	OptionMaxReaders = "max_readers"
	// OptionNoSync skips fsync on commit
	OptionNoSync = "no_sync"
	// OptionTimeout bounds how long opening waits for the file lock
	OptionTimeout = "timeout"
	// DefaultMode is used when OptionMode is not set
	DefaultMode os.FileMode = 0644
)

// PluginOptions is a generic structure to pass
// configuration to a storage plugin
type PluginOptions map[string]interface{}

// Path returns the required "path" option
func (options PluginOptions) Path() (string, error) {
	path, ok := options[OptionPath]

	if !ok {
		return "", fmt.Errorf("%q is required", OptionPath)
	}

	pathString, ok := path.(string)

	if !ok {
		return "", fmt.Errorf("%q must be a string", OptionPath)
	}

	if pathString == "" {
		return "", fmt.Errorf("%q must not be empty", OptionPath)
	}

	return pathString, nil
}

// Mode returns the "mode" option or DefaultMode
func (options PluginOptions) Mode() (os.FileMode, error) {
	mode, ok := options[OptionMode]

	if !ok {
		return DefaultMode, nil
	}

	switch m := mode.(type) {
	case os.FileMode:
		return m, nil
	case uint32:
		return os.FileMode(m), nil
	case int:
		return os.FileMode(m), nil
	}

	return 0, fmt.Errorf("%q must be a file mode", OptionMode)
}

// Int returns the named integer option or def if it is not set
func (options PluginOptions) Int(name string, def int64) (int64, error) {
	value, ok := options[name]

	if !ok {
		return def, nil
	}

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	}

	return 0, fmt.Errorf("%q must be an integer", name)
}

// Bool returns the named boolean option or false if it is not set
func (options PluginOptions) Bool(name string) (bool, error) {
	value, ok := options[name]

	if !ok {
		return false, nil
	}

	b, ok := value.(bool)

	if !ok {
		return false, fmt.Errorf("%q must be a boolean", name)
	}

	return b, nil
}

// Duration returns the named duration option or def if it is not set
func (options PluginOptions) Duration(name string, def time.Duration) (time.Duration, error) {
	value, ok := options[name]

	if !ok {
		return def, nil
	}

	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)

		if err != nil {
			return 0, fmt.Errorf("%q is not a valid duration: %s", name, err)
		}

		return d, nil
	}

	return 0, fmt.Errorf("%q must be a duration", name)
}
