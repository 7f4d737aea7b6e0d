package config

const (
	// MaxRequestBodyBytes caps JSON bodies accepted by the document API.
	MaxRequestBodyBytes = 1 << 20

	// DefaultPageSize applies to list requests without a limit.
	DefaultPageSize = 50

	// MaxPageSize is the largest limit a list request may ask for.
	MaxPageSize = 500

	// MaxFilterLength bounds the JSON filter passed in the q parameter.
	MaxFilterLength = 8192
)
