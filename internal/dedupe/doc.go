// Package dedupe drops redelivered channel messages using a time-windowed
// guard keyed by channel and platform message id.
package dedupe
