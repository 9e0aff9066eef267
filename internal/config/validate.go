package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	// server
	if c.Server.URL == "" {
		errs = append(errs, "server.url is required")
	} else if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		errs = append(errs, "server.url must be a ws:// or wss:// endpoint")
	}

	// identity
	switch c.Identity.Role {
	case "tenant", "landlord":
	default:
		errs = append(errs, `identity.role must be "tenant" or "landlord"`)
	}

	// marketplace
	if c.Marketplace.BaseURL != "" &&
		!strings.HasPrefix(c.Marketplace.BaseURL, "http://") && !strings.HasPrefix(c.Marketplace.BaseURL, "https://") {
		errs = append(errs, "marketplace.baseUrl must be an http(s) endpoint")
	}

	// chat
	if c.Chat.TypingQuietMs < 0 {
		errs = append(errs, "chat.typingQuietMs must be non-negative")
	}
	if c.Chat.RemoteTypingDecayMs < 0 {
		errs = append(errs, "chat.remoteTypingDecayMs must be non-negative")
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)

	switch t.Kind() {
	case reflect.Map:
		// Map keys are user-defined; check values only.
		elemType := derefType(t.Elem())
		if elemType.Kind() != reflect.Struct {
			return nil
		}
		var unknown []string
		for key, val := range data {
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, elemType, joinPath(prefix, key))...)
			}
		}
		return unknown

	case reflect.Struct:
		known := jsonFieldMap(t)
		var unknown []string
		for key, val := range data {
			ft, ok := known[key]
			if !ok {
				unknown = append(unknown, joinPath(prefix, key))
				continue
			}
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
			}
		}
		return unknown

	default:
		return nil
	}
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
