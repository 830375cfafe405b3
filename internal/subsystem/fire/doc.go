// Package fire implements the zone-based fire detection and suppression subsystem.
//
// A fire alarm latches one detector, opens a suppression countdown (longer for
// occupied zones) and then discharges the zone's extinguishing system. Resetting
// the alarm cancels a pending countdown and sends used systems to recharge.
package fire
