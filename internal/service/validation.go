package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate - общий валидатор входных структур (потокобезопасен, кэширует теги).
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct проверяет структуру и оборачивает нарушения в ErrValidation.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// describeFieldError формирует сообщение для одного нарушения.
func describeFieldError(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("поле %s обязательно", field)
	case "max":
		return fmt.Sprintf("поле %s длиннее %s символов", field, fe.Param())
	case "min":
		return fmt.Sprintf("поле %s короче %s символов", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("поле %s должно быть UUID", field)
	default:
		return fmt.Sprintf("поле %s не прошло проверку %s", field, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
