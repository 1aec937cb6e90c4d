// Package profile loads the business profile: the identity, opening hours,
// menu, directions, and behavior rules the agent represents. The profile is
// a TOML file with ${VAR} environment expansion, re-readable at runtime so
// prompt reloads pick up edits without a restart.
package profile
