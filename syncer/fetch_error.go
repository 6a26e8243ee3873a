package syncer

import (
	"errors"
	"fmt"
)

// FetchErrorKind says whether retrying a failed page fetch can ever succeed.
type FetchErrorKind string

const (
	FetchPermanent FetchErrorKind = "permanent"
	FetchTemporary FetchErrorKind = "temporary"
)

// FetchError is returned by page fetchers. Kind drives how the enricher reconciles the failure.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch page data"
	if e.URL != "" {
		msg += " " + e.URL
	}
	msg += " (" + string(e.Kind) + ")"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func permanentErr(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchPermanent, URL: url, StatusCode: status, Err: err}
}

func temporaryErr(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchTemporary, URL: url, StatusCode: status, Err: err}
}

// FetchErrorKindOf classifies err. Anything that is not explicitly permanent is temporary,
// so an unrecognized failure is retried rather than silently dropped.
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == FetchPermanent {
		return FetchPermanent
	}
	return FetchTemporary
}

func IsPermanentFetchError(err error) bool {
	return err != nil && FetchErrorKindOf(err) == FetchPermanent
}
