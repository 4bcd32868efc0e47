package jobpoller

import "github.com/xraph/jobpoller/id"

// ID is the primary identifier type for all jobpoller entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
