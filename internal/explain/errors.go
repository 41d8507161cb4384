// Package explain implements the attribution providers: exact tree-path
// attribution and sampling-based Shapley estimation for the shap method,
// and a locally-weighted linear surrogate for the lime method.
package explain

import "github.com/rotisserie/eris"

var (
	// ErrUnsupportedMethod is returned when no strategy exists for a
	// (method, model family) pair.
	ErrUnsupportedMethod = eris.New("explain: method not supported for model family")

	// ErrMalformedParams is returned when a model's stored parameters fail
	// to decode into a usable predictor.
	ErrMalformedParams = eris.New("explain: malformed model params")

	// ErrInstanceOutOfRange is returned when a local-scope request indexes
	// past the dataset's sample matrix.
	ErrInstanceOutOfRange = eris.New("explain: instance index out of range")
)
