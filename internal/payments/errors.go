package payments

// ValidationError marks client-input failures so the HTTP layer can map
// them to a 400 instead of a 500.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
