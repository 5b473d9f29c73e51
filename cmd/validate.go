package main

import (
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks a pipeline request before any work is done.
func validateRequest(req pipeline.Request) error {
	if err := requestValidator.Struct(req); err != nil {
		return eris.Wrapf(err, "invalid request for %q", req.URL)
	}
	return nil
}
