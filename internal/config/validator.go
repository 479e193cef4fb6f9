package config

import (
	"fmt"
	"reflect"
	"strings"
)

// RequiredFields builds a Validator that fails if any of the named fields
// (dot notation for nested structs) is the zero value, ported from the
// teacher's pkg/config/validator.go.
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		for _, field := range fields {
			val := getNestedField(config, field)
			if !val.IsValid() || isEmpty(val) {
				return fmt.Errorf("required field %q is missing or empty", field)
			}
		}
		return nil
	})
}

func isEmpty(val reflect.Value) bool {
	switch val.Kind() {
	case reflect.String:
		return val.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return val.Int() == 0
	case reflect.Float32, reflect.Float64:
		return val.Float() == 0
	case reflect.Slice, reflect.Map:
		return val.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return val.IsNil()
	default:
		return false
	}
}

// RangeValidator fails if field (an int/float) falls outside [min, max].
func RangeValidator(field string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		val := getNestedField(config, field)
		if !val.IsValid() {
			return fmt.Errorf("field %q not found", field)
		}
		var num float64
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			num = float64(val.Int())
		case reflect.Float32, reflect.Float64:
			num = val.Float()
		default:
			return fmt.Errorf("field %q is not numeric", field)
		}
		if num < min || num > max {
			return fmt.Errorf("field %q value %v outside range [%v, %v]", field, num, min, max)
		}
		return nil
	})
}

// StringLengthValidator fails if the named string field's length falls
// outside [min, max].
func StringLengthValidator(field string, min, max int) Validator {
	return ValidatorFunc(func(config interface{}) error {
		val := getNestedField(config, field)
		if !val.IsValid() || val.Kind() != reflect.String {
			return fmt.Errorf("field %q is not a string", field)
		}
		n := len(val.String())
		if n < min || n > max {
			return fmt.Errorf("field %q length %d outside range [%d, %d]", field, n, min, max)
		}
		return nil
	})
}

// OneOfValidator fails unless the named string field equals one of allowed.
func OneOfValidator(field string, allowed ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		val := getNestedField(config, field)
		if !val.IsValid() || val.Kind() != reflect.String {
			return fmt.Errorf("field %q is not a string", field)
		}
		got := val.String()
		for _, want := range allowed {
			if got == want {
				return nil
			}
		}
		return fmt.Errorf("field %q value %q not one of %v", field, got, allowed)
	})
}

// getNestedField resolves a dot-notation path ("Tracing.Exporter") against
// config, which must be a struct or pointer to struct.
func getNestedField(config interface{}, path string) reflect.Value {
	val := reflect.ValueOf(config)
	for val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if val.Kind() != reflect.Struct {
			return reflect.Value{}
		}
		val = val.FieldByName(part)
		if !val.IsValid() {
			return reflect.Value{}
		}
		for val.Kind() == reflect.Ptr {
			if val.IsNil() {
				return val
			}
			val = val.Elem()
		}
	}
	return val
}
