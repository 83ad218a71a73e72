// Package cli holds the start-up and shutdown plumbing shared by the shmpub
// commands.
package cli

import (
	"flag"
	"strings"
)

// ListFlag is a repeatable string flag. Each occurrence may also carry a
// comma separated list.
type ListFlag []string

func (l *ListFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

// Set appends the value.
func (l *ListFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// StringVar registers one string flag under several names.
func StringVar(fs *flag.FlagSet, p *string, value, usage string, names ...string) {
	for _, name := range names {
		fs.StringVar(p, name, value, usage)
	}
}

// IntVar registers one int flag under several names.
func IntVar(fs *flag.FlagSet, p *int, value int, usage string, names ...string) {
	for _, name := range names {
		fs.IntVar(p, name, value, usage)
	}
}

// ListVar registers one repeatable flag under several names.
func ListVar(fs *flag.FlagSet, p *ListFlag, usage string, names ...string) {
	for _, name := range names {
		fs.Var(p, name, usage)
	}
}

// Visited reports which flags were set on the command line.
func Visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// AnySet reports whether any of names was set.
func AnySet(set map[string]bool, names ...string) bool {
	for _, name := range names {
		if set[name] {
			return true
		}
	}
	return false
}
