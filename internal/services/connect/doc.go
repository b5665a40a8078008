// Package connect implements real-time peer support transport for HealthPulse.
//
// It keeps WebSocket lifecycle, message sequencing, presence, and fan-out
// isolated from reporting logic so the symptom services remain the source of
// truth for health data.
package connect
