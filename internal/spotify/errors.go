package spotify

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// TokenExchangeError is returned when the authorization server rejects the
// refresh token or the client credentials.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return strings.TrimSpace(fmt.Sprintf("token exchange failed: %d %s", e.StatusCode, e.Body))
}

// asTokenExchangeError converts a non-2xx oauth2 retrieval failure into a
// TokenExchangeError. Other errors are wrapped unchanged.
func asTokenExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &TokenExchangeError{
			StatusCode: re.Response.StatusCode,
			Body:       string(re.Body),
		}
	}
	return fmt.Errorf("token exchange: %w", err)
}
