// Package audio turns generated PCM payloads into playable media.
//
// Two backends implement handle.Factory: Device plays through the system
// audio output using oto/v3, and Virtual only keeps time, for headless runs
// without a sound card and for tests. Payloads are signed 16-bit little-endian
// PCM in the configured Format.
package audio
