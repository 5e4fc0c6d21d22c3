package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"reddot-watch/newsdesk/internal/apperr"
)

var validate = validator.New()

// validateStruct runs the struct tag rules and folds failures into a single
// validation error naming every offending field.
func validateStruct(what string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.ValidationFailure, err, "invalid %s", what)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return apperr.New(apperr.ValidationFailure, "invalid %s (%s)", what, strings.Join(problems, "; "))
}
