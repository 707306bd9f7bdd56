// Package shared contains the error taxonomy used across driftd.
//
// Errors are classified into a small set of kinds with KindOf. Adapters map
// kinds to transport codes (the HTTP API turns KindNotFound into 404,
// KindValidation into 400 and so on); lower layers only mark errors:
//
//	if errors.Is(err, sql.ErrNoRows) {
//	    return shared.MarkKind(err, shared.KindNotFound)
//	}
//
// Errors coming out of the drift engine are classified with FromDrift:
//
//	token, err := drift.ScheduleCron(expr, fn)
//	if err != nil {
//	    return shared.FromDrift(err) // KindValidation
//	}
//
// Message style: lowercase, no trailing punctuation, composable with Wrap.
package shared
