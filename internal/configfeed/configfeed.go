// Package configfeed loads the ratelimit.Config, eventbus.Config and
// cache.Config seed structs from YAML/TOML files: a thin
// format-dispatch layer over stdlib-compatible decoders, with
// github.com/golobby/cast doing the permissive scalar coercion (e.g.
// "2s" -> time.Duration) that struct-tag decoding alone doesn't give
// you for fields an author may write as either a string or a bare
// number.
package configfeed

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Load decodes the file at path into dst, dispatching on file
// extension (.yaml/.yml or .toml). Unsupported extensions are a
// configuration error, reported synchronously to the caller.
func Load(path string, dst any) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("configfeed: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("configfeed: parse yaml %s: %w", path, err)
		}
		return nil
	case ".toml":
		if _, err := toml.DecodeFile(path, dst); err != nil {
			return fmt.Errorf("configfeed: parse toml %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("configfeed: unsupported config extension %q", ext)
	}
}

// Duration casts an arbitrary scalar (string like "2s", an int count
// of seconds, or a time.Duration already) into a time.Duration. It
// exists because YAML/TOML authors routinely write durations as bare
// numbers of seconds, and golobby/cast's permissive ToString gives a
// uniform parse path for both that and Go duration syntax.
func Duration(v any) (time.Duration, error) {
	if d, ok := v.(time.Duration); ok {
		return d, nil
	}
	s, err := cast.ToString(v)
	if err != nil {
		return 0, fmt.Errorf("configfeed: cannot read duration from %v: %w", v, err)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("configfeed: %q is not a duration", s)
}
