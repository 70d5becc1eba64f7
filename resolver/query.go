package resolver

import (
	"github.com/lslnet/streamnet/errs"
	"github.com/lslnet/streamnet/query"
)

// checkQuery validates q parses as a predicate, reporting any query.Check
// failure as errs.ErrInvalidQuery for callers that match on sentinel kind.
func checkQuery(q string) error {
	if err := query.Check(q); err != nil {
		return errs.ErrInvalidQuery
	}
	return nil
}

// buildFullQuery conjoins the current session id onto the caller's
// predicate, matching query.Build(sessionID, predicate, "").
func buildFullQuery(sessionID, predicate string) string {
	return query.Build(sessionID, predicate, "")
}
