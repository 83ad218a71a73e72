package cli

import (
	"flag"

	"github.com/coachpo/shmpub/internal/config"
)

// SessionFlags are the session options common to commands that open a
// session.
type SessionFlags struct {
	Mode        string
	Connect     ListFlag
	Listen      ListFlag
	NoMulticast bool
}

// Register adds the session flags to fs.
func (f *SessionFlags) Register(fs *flag.FlagSet) {
	StringVar(fs, &f.Mode, "", "session mode (peer|client)", "m", "mode")
	ListVar(fs, &f.Connect, "endpoint to connect to, e.g. ws/127.0.0.1:7447 (repeatable)", "e", "connect")
	ListVar(fs, &f.Listen, "endpoint to listen on (repeatable)", "l", "listen")
	fs.BoolVar(&f.NoMulticast, "no-multicast-scouting", false, "disable multicast discovery of peers")
}

// Apply overlays the flags that were set on cfg.
func (f *SessionFlags) Apply(cfg *config.Config, set map[string]bool) {
	if AnySet(set, "m", "mode") {
		cfg.Session.Mode = f.Mode
	}
	if AnySet(set, "e", "connect") {
		cfg.Session.Connect = append([]string(nil), f.Connect...)
	}
	if AnySet(set, "l", "listen") {
		cfg.Session.Listen = append([]string(nil), f.Listen...)
	}
	if set["no-multicast-scouting"] && f.NoMulticast {
		cfg.Session.MulticastScouting = false
	}
}

// SHMFlags size the shared memory pool.
type SHMFlags struct {
	ElementSize   int
	ElementNumber int
}

// Register adds the pool sizing flags to fs.
func (f *SHMFlags) Register(fs *flag.FlagSet) {
	IntVar(fs, &f.ElementSize, 1024, "size of each shared memory element in bytes", "s", "shm-element-size")
	IntVar(fs, &f.ElementNumber, 100, "number of shared memory elements", "n", "shm-element-number")
}

// Apply overlays the flags that were set on cfg.
func (f *SHMFlags) Apply(cfg *config.Config, set map[string]bool) {
	if AnySet(set, "s", "shm-element-size") {
		cfg.SHM.ElementSize = f.ElementSize
	}
	if AnySet(set, "n", "shm-element-number") {
		cfg.SHM.ElementNumber = f.ElementNumber
	}
}

// Finalize normalises and validates cfg after flags were applied.
func Finalize(cfg *config.Config) error {
	cfg.Normalise()
	return cfg.Validate()
}
