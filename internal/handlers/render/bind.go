package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Requests of the service are small, bigger bodies are rejected
const maxBodyBytes = 64 << 10

var validate = newValidator()

type Struct any

// Field messages by validation tag. Tags with parameter are formatted with it
var tagMessages = map[string]string{
	"required":      "This field is required",
	"min":           "Value is too short (minimum %s)",
	"max":           "Value is too long (maximum %s)",
	"email":         "Invalid email address",
	"http_url":      "Invalid URL, http or https expected",
	usernameTag:     "Only latin letters, digits and underscore are allowed",
	profileImageTag: "Invalid URL, http or https expected (maximum 255 characters)",
	passwordTag:     "Password must contain at least one letter and one digit",
}

func fieldMessage(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	switch {
	case !ok:
		return "Invalid value"
	case fe.Param() != "":
		return fmt.Sprintf(msg, fe.Param())
	default:
		return msg
	}
}

func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fieldMessage(fe)
	}

	jsonWithStatus(w, ErrorResponse{
		Error:   ValidationErrorType,
		Message: "Request validation failed",
		Fields:  fields,
	}, http.StatusBadRequest)
}

// BindAndValidate decodes JSON body into T and checks its validate tags.
// On failure the error response is already written, caller only has to return.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		DecodeError(w, err)
		return value, err
	}

	return value, Validate(w, value)
}

// Check runs validate tags of value without rendering anything.
// Lets input coming from outside of HTTP follow the same rules
func Check(value any) error {
	return validate.Struct(value)
}

// Validate struct bound by hand (from form or query) and render errors if any
func Validate(w http.ResponseWriter, value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		ValidationErrors(w, errs)
	} else {
		ServiceError(w, "Request validation failed", http.StatusBadRequest)
	}
	return err
}
