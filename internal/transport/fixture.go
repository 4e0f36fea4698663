package transport

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Fixture scripts an offline device.  Example:
//
//	banner  = "r1 lab router"
//	prompt  = "r1#"
//	unknown = "% Invalid input detected"
//
//	[login]
//	user     = "admin"
//	password = "admin"
//
//	[[command]]
//	match    = "show version"
//	response = "Cisco IOS Software, Version 15.2(4)M"
//
//	[[command]]
//	match    = "show (run|running-config)"
//	response = "hostname r1"
//
// Matches are regular expressions anchored to the whole (trimmed)
// command and are tried in file order.
type Fixture struct {
	Banner   string           `toml:"banner"`
	Prompt   string           `toml:"prompt"`
	Unknown  string           `toml:"unknown"`
	Login    *FixtureLogin    `toml:"login"`
	Commands []FixtureCommand `toml:"command"`

	compiled []*regexp.Regexp
}

// FixtureLogin makes the device demand these credentials.
type FixtureLogin struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// FixtureCommand is one scripted command/response pair.
type FixtureCommand struct {
	Match    string `toml:"match"`
	Response string `toml:"response"`
}

// LoadFixture reads and compiles a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	var f Fixture
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fixture %s: unknown key %q", path, undecoded[0].String())
	}
	if err := f.compile(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *Fixture) compile() error {
	f.compiled = make([]*regexp.Regexp, len(f.Commands))
	for i, c := range f.Commands {
		if c.Match == "" {
			return fmt.Errorf("command %d: empty match", i+1)
		}
		re, err := regexp.Compile(`^(?:` + c.Match + `)$`)
		if err != nil {
			return fmt.Errorf("command %d: %w", i+1, err)
		}
		f.compiled[i] = re
	}
	return nil
}

// Respond returns the scripted response for command.
func (f *Fixture) Respond(command string) (string, bool) {
	for i, re := range f.compiled {
		if re.MatchString(command) {
			return f.Commands[i].Response, true
		}
	}
	return "", false
}
