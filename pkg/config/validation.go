package config

import (
	"reflect"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// Validator is implemented by configuration structs with rules beyond
// `required:"true"`. [Loader.Load] calls Validate only once every
// required setting is present. An *sserr.Error is returned unchanged;
// any other error is wrapped with [sserr.CodeValidation].
//
//	func (c *ProviderConfig) Validate() error {
//	    if c.Strategy != "token" && c.Strategy != "directory" {
//	        return sserr.Newf(sserr.CodeValidation,
//	            "config: unknown strategy %q", c.Strategy)
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// missingSetting is a required field left at its zero value.
type missingSetting struct {
	path   string // dotted Go field path, e.g. "Cache.URI"
	envKey string // environment variable that sets it, "" if none
}

func (m missingSetting) String() string {
	if m.envKey == "" {
		return m.path
	}
	return m.path + " (" + m.envKey + " or " + m.envKey + fileSuffix + ")"
}

func validate(cfg any, rv reflect.Value, envPrefix string) error {
	if missing := collectMissing(rv, "", envPrefix, nil); len(missing) > 0 {
		names := make([]string, len(missing))
		paths := make([]string, len(missing))
		for i, m := range missing {
			names[i] = m.String()
			paths[i] = m.path
		}
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required settings are empty: %s", strings.Join(names, ", ")).
			WithDetail("fields", paths)
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isSSErr := sserr.AsError(err); isSSErr {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
	}
	return nil
}

// collectMissing walks rv the way applyEnv does, so each missing field is
// reported with the environment variable an operator would set.
func collectMissing(rv reflect.Value, path, envPrefix string, missing []missingSetting) []missingSetting {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			missing = collectMissing(field, fieldPath, joinEnv(envPrefix, envTag), missing)
			continue
		}

		if sf.Tag.Get("required") != "true" || !field.IsZero() {
			continue
		}
		m := missingSetting{path: fieldPath}
		if envTag != "" {
			m.envKey = joinEnv(envPrefix, envTag)
		}
		missing = append(missing, m)
	}
	return missing
}

func joinEnv(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}
