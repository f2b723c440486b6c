package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// QueueTaskRequest queues a single URL for analysis.
type QueueTaskRequest struct {
	URL            string            `json:"url" validate:"required,url"`
	Params         map[string]string `json:"params,omitempty"`
	AllowDuplicate bool              `json:"allowDuplicate,omitempty"`
}

// QueueBatchRequest queues a group of URLs.
type QueueBatchRequest struct {
	URLs           []string          `json:"urls" validate:"required,min=1,max=100,dive,url"`
	Params         map[string]string `json:"params,omitempty"`
	AllowDuplicate bool              `json:"allowDuplicate,omitempty"`
}

// TabRequest registers or updates a browser tab.
type TabRequest struct {
	WindowID int    `json:"windowId" validate:"gte=0"`
	URL      string `json:"url" validate:"required"`
	Title    string `json:"title,omitempty" validate:"max=1024"`
	Active   bool   `json:"active"`
}

// PageLoadRequest reports a finished page load.
type PageLoadRequest struct {
	URL string `json:"url" validate:"required"`
}

// ContentRequest pushes extracted page content for a tab.
type ContentRequest struct {
	URL      string            `json:"url" validate:"required"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CaptureURLRequest captures a page that is not open in a tab.
type CaptureURLRequest struct {
	URL        string            `json:"url" validate:"required,url"`
	Title      string            `json:"title,omitempty" validate:"max=1024"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Source     string            `json:"source,omitempty" validate:"omitempty,oneof=bookmark history background recovered active_tab open_tab"`
	BookmarkID string            `json:"bookmarkId,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks a request body against its struct tags and returns a
// message naming the failing fields.
func Validate(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be an absolute url"
	case "min":
		return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
