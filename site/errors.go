package site

import "fmt"

// UnknownSiteError reports a Resolve call for a family/code pair that
// was never registered. Surfaced before any network traffic.
type UnknownSiteError struct {
	Family string
	Code   string
}

func (e *UnknownSiteError) Error() string {
	return fmt.Sprintf("unknown site: %s:%s is not registered", e.Code, e.Family)
}
