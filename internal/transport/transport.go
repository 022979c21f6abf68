// Package transport is the request/response collaborator of the client
// stores. Stores see it only as a Caller: a call that resolves to a decoded
// payload or a *Failure.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

const defaultFailureMessage = "Request failed"

// Caller issues one outbound call and decodes the success payload into out.
type Caller interface {
	Call(ctx context.Context, request Request, out any) error
}

// Request describes one API call. Path is relative to the API base URL.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Form      *Form
	Anonymous bool
}

// Form is a multipart body: ordered text fields followed by ordered files.
type Form struct {
	Fields []Field
	Files  []File
}

// Field is one multipart text field.
type Field struct {
	Name  string
	Value string
}

// File is one multipart file part.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Add appends a text field.
func (f *Form) Add(name, value string) {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
}

// Value returns the first value of the named field.
func (f *Form) Value(name string) string {
	if f == nil {
		return ""
	}
	for _, field := range f.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

// Failure is the normalized error shape of a failed call. Status is zero
// when the server could not be reached.
type Failure struct {
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Unreachable reports whether the call never got an HTTP response.
func (f *Failure) Unreachable() bool {
	return f.Status == 0
}

// Unauthorized reports whether the server rejected the credentials.
func (f *Failure) Unauthorized() bool {
	return f.Status == http.StatusUnauthorized
}

// Message extracts a human-readable message from err, defaulting to a
// generic one when err carries no failure shape.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var failure *Failure
	if errors.As(err, &failure) && failure.Message != "" {
		return failure.Message
	}
	return defaultFailureMessage
}

// IsUnreachable reports whether err is a *Failure without an HTTP response.
func IsUnreachable(err error) bool {
	var failure *Failure
	return errors.As(err, &failure) && failure.Unreachable()
}

// TokenSource supplies and rotates the bearer credentials attached to calls.
type TokenSource interface {
	AccessToken() string
	RefreshToken() string
	SetAccessToken(token string)
}
