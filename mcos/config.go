package mcos

import (
	"github.com/hrygo/mnemo/mcos/assembler"
	"github.com/hrygo/mnemo/mcos/ledger"
	"github.com/hrygo/mnemo/mcos/orchestrator"
	"github.com/hrygo/mnemo/mcos/session"
	"github.com/hrygo/mnemo/mcos/userprofile"
	"github.com/hrygo/mnemo/mcos/vectormem"
)

// Config aggregates the tunables of every memory tier. The zero value is
// usable; each component normalizes unset fields to its defaults.
type Config struct {
	Session      session.Config
	Ledger       ledger.Config
	Vector       vectormem.Config
	Profile      userprofile.Config
	Assembler    assembler.Config
	Orchestrator orchestrator.Config
}

// DefaultConfig returns the documented defaults for every tier.
func DefaultConfig() Config {
	return Config{
		Session:      session.DefaultConfig(),
		Ledger:       ledger.DefaultConfig(),
		Vector:       vectormem.DefaultConfig(),
		Profile:      userprofile.DefaultConfig(),
		Assembler:    assembler.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
	}
}
