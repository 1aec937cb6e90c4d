// Package tools holds the registration table mapping tool names to handlers.
// Every invocation is validated against the tool's JSON Schema before its
// handler runs, and every invocation produces exactly one result: argument
// and handler failures are diagnostic results, not process failures. Only an
// unregistered name is an error.
package tools
