// Package apierr holds the shared error taxonomy returned by the
// authorization core: structured errors with a status code and a message
// rendered from a template.
package apierr

import (
	"errors"
	"net/http"
	"sort"
	"strings"
)

// Kind names.
const (
	MissingInput      = "MissingInput"
	Unauthorized      = "Unauthorized"
	MissingDoc        = "MissingDoc"
	MismatchedDocType = "MismatchedDocType"
	MissingAuthCode   = "MissingAuthCode"
	InvalidState      = "InvalidState"
	InvalidGrantType  = "InvalidGrantType"
	Internal          = "Internal"
)

// Error is the wire shape of every taxonomy error:
// {"message": ..., "statusCode": ..., "isError": true}.
type Error struct {
	Kind       string `json:"-"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	IsError    bool   `json:"isError"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches two taxonomy errors by kind so callers can compare against
// a catalog error without caring about the interpolated message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kind describes one entry of the taxonomy. Template placeholders have the
// form %name and are substituted from the term map passed to Catalog.New.
type Kind struct {
	Name       string
	Template   string
	StatusCode int
}

// Catalog is an immutable set of kinds. Build one at start-up and share it.
type Catalog struct {
	kinds map[string]Kind
}

// NewCatalog copies kinds into a new catalog.
func NewCatalog(kinds ...Kind) *Catalog {
	m := make(map[string]Kind, len(kinds))
	for _, k := range kinds {
		m[k.Name] = k
	}
	return &Catalog{kinds: m}
}

// DefaultCatalog returns the taxonomy used by the service.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Kind{Name: MissingInput, Template: "The input field \"%fieldName\" was undefined", StatusCode: http.StatusBadRequest},
		Kind{Name: Unauthorized, Template: "Unauthorized", StatusCode: http.StatusUnauthorized},
		Kind{Name: MissingDoc, Template: "The record of %docName is not found", StatusCode: http.StatusNotFound},
		Kind{Name: MismatchedDocType, Template: "The type of %docName is expected to be %expectedType", StatusCode: http.StatusUnauthorized},
		Kind{Name: MissingAuthCode, Template: "The authorization code from %provider is missing", StatusCode: http.StatusBadRequest},
		Kind{Name: InvalidState, Template: "The state parameter returned by %provider does not match", StatusCode: http.StatusUnauthorized},
		Kind{Name: InvalidGrantType, Template: "The grant type \"%grantType\" is not supported", StatusCode: http.StatusBadRequest},
		Kind{Name: Internal, Template: "Internal server error", StatusCode: http.StatusInternalServerError},
	)
}

// Kind returns the kind registered under name.
func (c *Catalog) Kind(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// New renders the kind's template against terms. Unknown kinds fall back to
// Internal so a typo never leaks a zero status code.
func (c *Catalog) New(name string, terms map[string]string) *Error {
	k, ok := c.kinds[name]
	if !ok {
		k = Kind{Name: Internal, Template: "Internal server error", StatusCode: http.StatusInternalServerError}
	}
	return &Error{
		Kind:       k.Name,
		Message:    Render(k.Template, terms),
		StatusCode: k.StatusCode,
		IsError:    true,
	}
}

// Sentinel returns a bare error of the named kind for use with errors.Is.
func Sentinel(name string) *Error {
	return &Error{Kind: name, IsError: true}
}

// Render substitutes %term placeholders. Longer term names are replaced
// first so %docName never clobbers %docNameFull.
func Render(template string, terms map[string]string) string {
	if len(terms) == 0 {
		return template
	}
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		pairs = append(pairs, "%"+name, terms[name])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// As extracts a taxonomy error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
