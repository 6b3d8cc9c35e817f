// Package config holds the mdm-cli configuration file (~/.mdm/cli.yaml):
// named server profiles and output preferences.
package config

// CLIConfig is the configuration for mdm-cli.
type CLIConfig struct {
	// Current names the profile used when --profile is not given.
	Current string `yaml:"current,omitempty"`
	// Output is the default output format: table, json or yaml.
	Output   string             `yaml:"output,omitempty"`
	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// Profile stores how to reach one server.
type Profile struct {
	Server   string `yaml:"server"`
	Token    string `yaml:"token,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// DefaultServer is used when neither a flag nor a profile names a server.
const DefaultServer = "http://127.0.0.1:5080"

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Output:   "table",
		Profiles: make(map[string]Profile),
	}
}

// Profile returns the named profile, or the current one when name is
// empty. The zero profile points at DefaultServer.
func (c *CLIConfig) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.Current
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{Server: DefaultServer}, name == ""
	}
	if p.Server == "" {
		p.Server = DefaultServer
	}
	return p, true
}
