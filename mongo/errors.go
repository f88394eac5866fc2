package mongo

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes treated as "already present" by the ensure operations.
const (
	codeNamespaceExists      = 48
	codeIndexAlreadyExists   = 68
	codeIndexOptionsConflict = 85
)

// IsAlreadyExists reports whether err is a server error saying the collection
// or index being created is already there.
//
// IndexKeySpecsConflict (86) is deliberately absent: it means an index with the
// requested name covers different keys.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}

	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}

	return serverErr.HasErrorCode(codeNamespaceExists) ||
		serverErr.HasErrorCode(codeIndexAlreadyExists) ||
		serverErr.HasErrorCode(codeIndexOptionsConflict)
}
