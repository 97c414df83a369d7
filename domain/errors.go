package domain

import "fmt"

// NotFoundError signals that a referenced target IRI resolved to
// nothing, neither locally nor through the cache.
type NotFoundError struct {
	IRI string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("nothing found for %s", e.IRI)
}

// NotFromOutboxError signals an operation that requires local
// authorship targeting a record this instance did not author.
type NotFromOutboxError struct {
	IRI string
}

func (e *NotFromOutboxError) Error() string {
	return fmt.Sprintf("%s was not authored by this instance", e.IRI)
}

// ValidationError signals a structurally invalid activity.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid activity: %s", e.Reason)
}

// VerificationError signals an inbound delivery that could not be
// authenticated, distinct from a malformed payload.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: %s", e.Reason)
}
