package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/services"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// bodyError reports a request body that could not be read.
type bodyError struct {
	detail string
	err    error
}

func (e *bodyError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.detail, e.err)
	}
	return e.detail
}

func (e *bodyError) Unwrap() error { return e.err }

type taskRequest struct {
	Name             string `json:"name" validate:"max=256"`
	Description      string `json:"description" validate:"max=4096"`
	AssignedUser     string `json:"assignedUser" validate:"max=64"`
	AssignedUserName string `json:"assignedUserName" validate:"max=256"`
}

type userRequest struct {
	Name         string   `json:"name" validate:"max=256"`
	Email        string   `json:"email" validate:"max=254"`
	PendingTasks []string `json:"pendingTasks" validate:"max=1000,dive,max=64"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	if fe.Kind() == reflect.Slice {
		return &bodyError{detail: fmt.Sprintf("%s must contain at most %s items", fe.Field(), fe.Param()), err: err}
	}
	return &bodyError{detail: fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()), err: err}
}

func decodeTask(w http.ResponseWriter, r *http.Request) (services.TaskInput, error) {
	fields, err := readBody(w, r)
	if err != nil {
		return services.TaskInput{}, err
	}
	req := taskRequest{
		Name:             stringField(fields[models.FieldName]),
		Description:      stringField(fields["description"]),
		AssignedUser:     stringField(fields[models.FieldAssignedUser]),
		AssignedUserName: stringField(fields[models.FieldAssignedUserName]),
	}
	if err := validateRequest(req); err != nil {
		return services.TaskInput{}, err
	}

	// an unreadable deadline is reported the same way as a missing one
	deadline, _ := services.ParseDeadline(fields[models.FieldDeadline])
	return services.TaskInput{
		Name:             req.Name,
		Description:      req.Description,
		Deadline:         deadline,
		Completed:        services.ParseCompleted(fields[models.FieldCompleted]),
		AssignedUser:     req.AssignedUser,
		AssignedUserName: req.AssignedUserName,
	}, nil
}

func decodeUser(w http.ResponseWriter, r *http.Request) (services.UserInput, error) {
	fields, err := readBody(w, r)
	if err != nil {
		return services.UserInput{}, err
	}
	req := userRequest{
		Name:         stringField(fields[models.FieldName]),
		Email:        stringField(fields[models.FieldEmail]),
		PendingTasks: stringList(fields[models.FieldPendingTasks]),
	}
	if err := validateRequest(req); err != nil {
		return services.UserInput{}, err
	}
	return services.UserInput{Name: req.Name, Email: req.Email, PendingTasks: req.PendingTasks}, nil
}

// readBody decodes a JSON or urlencoded form body into a field map. An
// empty body yields no fields.
func readBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, &bodyError{detail: "Invalid form body", err: err}
		}
		return formFields(r.PostForm), nil
	}

	fields := map[string]interface{}{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		return nil, &bodyError{detail: "Invalid JSON body", err: err}
	}
	return fields, nil
}

// formFields keeps the first value of every key except pendingTasks, which
// may be repeated with or without a [] suffix.
func formFields(form url.Values) map[string]interface{} {
	fields := make(map[string]interface{}, len(form))
	var pending []interface{}
	for key, values := range form {
		name := strings.TrimSuffix(key, "[]")
		if name == models.FieldPendingTasks {
			for _, v := range values {
				pending = append(pending, v)
			}
			continue
		}
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}
	if pending != nil {
		fields[models.FieldPendingTasks] = pending
	}
	return fields
}

func stringField(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// stringList returns nil unless v is a list.
func stringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		out = append(out, stringField(item))
	}
	return out
}
