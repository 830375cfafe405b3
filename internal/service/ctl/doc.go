// Package ctl implements the safety-ctl operator commands.
//
// Every command dials the safety server, attaches the local operator
// (user@host) to the request and renders the reply for a terminal.
package ctl
