// Package model abstracts chat-completion providers behind a single Client
// interface. The agent loop speaks provider-neutral Requests and Responses;
// the Anthropic and OpenAI backends handle the per-SDK translation, and
// Fallback chains two backends so a provider outage is survivable.
package model
