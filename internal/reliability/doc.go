// Package reliability provides bounded retry policies for the one
// retryable failure in the engine: version numbering conflicts. All
// other errors are surfaced to the caller unchanged.
package reliability
