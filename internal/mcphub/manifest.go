package mcphub

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies how the hub talks to a capability server.
type Transport string

const (
	TransportStdio      Transport = "stdio"
	TransportHTTPStream  Transport = "http_streaming"
	TransportHTTPSSE     Transport = "http_sse"
)

// NotificationSpec describes a server's proactive-event polling tool,
// matching the manifest's optional `notifications { poll_interval, tool_name }`.
type NotificationSpec struct {
	PollInterval string `yaml:"poll_interval"`
	ToolName     string `yaml:"tool_name"`
}

// ServerManifest is one entry of the capability-server manifest (spec §4.7).
type ServerManifest struct {
	Name            string            `yaml:"name"`
	Transport       Transport         `yaml:"transport"`
	Command         string            `yaml:"command,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	URL             string            `yaml:"url,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Enable          string            `yaml:"enable,omitempty"`
	Permissions     []string          `yaml:"permissions,omitempty"`
	ToolPermissions map[string]string `yaml:"tool_permissions,omitempty"`
	PromptTools     []string          `yaml:"prompt_tools,omitempty"`
	RefreshInterval string            `yaml:"refresh_interval,omitempty"`
	Notifications   *NotificationSpec `yaml:"notifications,omitempty"`
}

type manifestFile struct {
	Servers []ServerManifest `yaml:"servers"`
}

// LoadManifests parses the capability-server manifest file. A missing
// file is not an error: it simply yields no servers, matching the
// config loader's tolerant-defaults style.
func LoadManifests(path string) ([]ServerManifest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mcphub: read manifest: %w", err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("mcphub: parse manifest: %w", err)
	}
	return mf.Servers, nil
}

// IsEnabled evaluates the manifest's `enable` field: empty means
// always-on, a literal "true"/"false" is taken as-is, anything else
// is read as an env var name whose value must be truthy.
func (m ServerManifest) IsEnabled() bool {
	if m.Enable == "" {
		return true
	}
	if b, err := strconv.ParseBool(m.Enable); err == nil {
		return b
	}
	v, ok := os.LookupEnv(m.Enable)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (m ServerManifest) refreshInterval() time.Duration {
	if m.RefreshInterval == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(m.RefreshInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

var envTokenRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandTokens substitutes `${VAR}` / `${VAR:-default}` tokens from the
// process environment augmented by file-based secrets (spec §4.7
// "Env-var injection for child processes").
func expandTokens(s string, secrets map[string]string) string {
	return envTokenRE.ReplaceAllStringFunc(s, func(tok string) string {
		parts := envTokenRE.FindStringSubmatch(tok)
		name, def := parts[1], parts[3]
		if v, ok := secrets[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

func expandEnvMap(env map[string]string, secrets map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = expandTokens(v, secrets)
	}
	return out
}

func expandArgs(args []string, secrets map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expandTokens(a, secrets)
	}
	return out
}

func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
