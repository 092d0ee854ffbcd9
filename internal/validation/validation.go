package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrInvalidInput wraps every request body validation failure.
var ErrInvalidInput = errors.New("invalid weather input")

// MaxCityLen matches the width of the city column.
const MaxCityLen = 100

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateCity trims the input, enforces the length bound (maxLen in runes, MaxCityLen if
// <= 0), and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, period, apostrophe. Returns the trimmed string or an error suitable for
// 400 INVALID_CITY responses. Case is preserved.
func ValidateCity(input string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = MaxCityLen
	}
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateCreate checks a create body. City must be present and pass ValidateCity;
// in.City is returned trimmed.
func ValidateCreate(in models.WeatherInput) (models.WeatherInput, error) {
	if err := validate.Struct(in); err != nil {
		return in, wrapValidation(err)
	}
	city, err := ValidateCity(in.City, MaxCityLen)
	if err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	in.City = city
	return in, nil
}

// ValidateUpdate checks an update body. City is not validated: the path city is the
// update target and the body's city is ignored.
func ValidateUpdate(in models.WeatherInput) error {
	if err := validate.StructExcept(in, "City"); err != nil {
		return wrapValidation(err)
	}
	return nil
}

// wrapValidation turns validator errors into a single ErrInvalidInput with a readable message.
func wrapValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}
