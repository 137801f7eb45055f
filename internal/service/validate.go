package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs struct-tag validation and folds every field error into
// one ErrValidation with a human-readable message.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ErrValidation{Message: err.Error()}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	field := ""
	if len(verrs) == 1 {
		field = fieldPath(verrs[0])
	}
	return &domain.ErrValidation{Field: field, Message: strings.Join(msgs, "; ")}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	numeric := fe.Kind() == reflect.Int || fe.Kind() == reflect.Float64

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s é obrigatório", field)
	case "email":
		return fmt.Sprintf("%s deve ser um e-mail válido", field)
	case "min":
		if numeric {
			return fmt.Sprintf("%s deve ser no mínimo %s", field, fe.Param())
		}
		return fmt.Sprintf("%s deve ter no mínimo %s caracteres", field, fe.Param())
	case "max":
		if numeric {
			return fmt.Sprintf("%s deve ser no máximo %s", field, fe.Param())
		}
		return fmt.Sprintf("%s deve ter no máximo %s caracteres", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s deve ser um de: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("%s é inválido (%s)", field, fe.Tag())
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
