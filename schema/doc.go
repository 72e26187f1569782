// Package schema provides payload validation for the workflow engine.
//
// Two kinds of payloads are validated: content payloads before a version
// is created, and transition payloads against the schema attached to the
// matched transition rule. Validation is fail-fast: the first failing
// field produces a ValidationError naming that field and no further
// fields are inspected.
package schema
