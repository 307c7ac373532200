package pipeline

import (
	"errors"
	"net/url"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/socrata"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
)

// Error kinds reported on the final log line and in the failure mail.
const (
	ErrorKindNetwork   = "network"
	ErrorKindRateLimit = "rate-limit"
	ErrorKindAuth      = "auth"
	ErrorKindSchema    = "schema"
	ErrorKindOther     = "other"
)

// Classify buckets a run failure so the operator knows whether to
// rotate credentials, wait out a rate limit or go read the schema
// violations. Classification survives wrapping.
func Classify(err error) string {
	var schemaErr *tabular.SchemaError
	if errors.As(err, &schemaErr) {
		return ErrorKindSchema
	}

	var censusErr *census.StatusError
	if errors.As(err, &censusErr) {
		switch {
		case censusErr.IsRateLimited():
			return ErrorKindRateLimit
		case censusErr.IsAuthFailure():
			return ErrorKindAuth
		}
		return ErrorKindNetwork
	}

	var socrataErr *socrata.StatusError
	if errors.As(err, &socrataErr) {
		if socrataErr.IsAuthFailure() {
			return ErrorKindAuth
		}
		return ErrorKindNetwork
	}

	// transport-level failures (dns, refused connections, timeouts)
	// reach us as *url.Error from the http clients
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorKindNetwork
	}

	return ErrorKindOther
}
