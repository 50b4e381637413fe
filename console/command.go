// =============================================================================
// command.go - Reserved Console Commands
// =============================================================================
//
// Every line the operator submits is parsed exactly once, when the main loop
// takes it off the command queue, into a Command. A small table of reserved
// words controls the session itself; any other line, including the empty
// line, is forwarded verbatim to the target with a trailing newline.
//
//	reconnect, r    drop the probe connection and reconnect
//	reset, rst      pulse the target reset line
//	power_on        switch target power on
//	power_off       switch target power off
//	clear           clear the console
//
// Matching is case-sensitive and exact: "Reset" or "reset " go to the target.
//
// =============================================================================

package main

import (
	"fmt"
	"sort"
)

// CommandKind identifies what a submitted line asks the console to do.
type CommandKind int

const (
	// CmdRawLine forwards the line to the target.
	CmdRawLine CommandKind = iota
	// CmdReconnect forces the connection into the broken state.
	CmdReconnect
	// CmdReset resets the target.
	CmdReset
	// CmdPowerOn switches target power on.
	CmdPowerOn
	// CmdPowerOff switches target power off.
	CmdPowerOff
	// CmdClearScreen clears the console display.
	CmdClearScreen
)

// String returns the kind's name for diagnostics.
func (k CommandKind) String() string {
	switch k {
	case CmdRawLine:
		return "raw"
	case CmdReconnect:
		return "reconnect"
	case CmdReset:
		return "reset"
	case CmdPowerOn:
		return "power_on"
	case CmdPowerOff:
		return "power_off"
	case CmdClearScreen:
		return "clear"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// needsProbe reports whether dispatching the command touches the probe.
// Such commands wait while the connection is broken.
func (k CommandKind) needsProbe() bool {
	switch k {
	case CmdReset, CmdPowerOn, CmdPowerOff, CmdRawLine:
		return true
	default:
		return false
	}
}

// Command is one parsed operator line. Text is set only for CmdRawLine.
type Command struct {
	Kind CommandKind
	Text string
}

// GO CONCEPT: Map Literals as Lookup Tables
// -----------------------------------------
// A map literal declared at package level is built once when the program
// starts. Looking a line up in it replaces a chain of string comparisons,
// and the two-value form "kind, ok := m[key]" tells a reserved word apart
// from an ordinary line without a sentinel value.

// reservedWords maps each reserved word to its command. Aliases share a kind.
var reservedWords = map[string]CommandKind{
	"reconnect": CmdReconnect,
	"r":         CmdReconnect,
	"reset":     CmdReset,
	"rst":       CmdReset,
	"power_on":  CmdPowerOn,
	"power_off": CmdPowerOff,
	"clear":     CmdClearScreen,
}

// parseCommand turns a raw input line into a Command.
func parseCommand(line string) Command {
	if kind, ok := reservedWords[line]; ok {
		return Command{Kind: kind}
	}
	return Command{Kind: CmdRawLine, Text: line}
}

// reservedCommandWords returns the reserved words in sorted order, for
// completion and help output.
func reservedCommandWords() []string {
	words := make([]string, 0, len(reservedWords))
	for word := range reservedWords {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}
