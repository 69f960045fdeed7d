// Package globals holds the CLI flags shared by every kong subcommand.
package globals

// Globals are the flags available to every subcommand.
type Globals struct {
	Verbose bool `help:"Enable verbose logging" short:"v" env:"CDNDEPOT_VERBOSE"`
}
