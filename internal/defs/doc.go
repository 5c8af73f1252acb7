// Package defs holds the definition table that template substitution
// draws from, plus the derivations that populate it: IPv4 network
// facts from a CIDR block, numbered DNS and NTP server names, version
// and host-name decomposition.
//
// Values keep the native types their source documents gave them;
// Format renders any value for a string context, printing whole
// numbers without a fractional part.
package defs
