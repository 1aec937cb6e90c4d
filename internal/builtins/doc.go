// Package builtins implements the canonical business tools the agent can
// call: profile, menu, directions, and knowledge lookups; price calculation;
// and the side-effecting order, booking, complaint, feedback, and escalation
// operations. Handlers trust the dispatcher to have schema-validated their
// arguments, compute all money in cents, and treat business rule violations
// (unknown menu item, delivery not offered) as errors for the dispatcher to
// surface as failed results the model can react to.
package builtins
