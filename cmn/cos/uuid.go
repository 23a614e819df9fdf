package cos

import "github.com/teris-io/shortid"

// uuidABC mirrors the teacher's own alphabet (cmn/cos/uuid.go's uuidABC),
// not shortid's default, since that is itself what the teacher overrides.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var sid = shortid.MustNew(4 /*worker*/, uuidABC, 0)

// GenUUID returns a short, process-unique id, used to tag one run of a
// node's log output for correlation across restarts.
func GenUUID() string { return sid.MustGenerate() }
