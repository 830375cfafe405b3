// Package compliance implements the regulatory compliance monitor.
//
// Automated checks for SOLAS, DNV and ISM read the state of the other
// subsystems; MARPOL and ISPS have no automated checks and stay pending.
// Failed requirements open violations that stay open until the requirement
// passes again or an operator resolves them.
package compliance
