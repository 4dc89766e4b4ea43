package coordinator

import "fmt"

// DocKey returns the coordinator identity of a canonical document.
func DocKey(documentID string) string {
	return documentID
}

// AppKey returns the coordinator identity of one user's app instance of a
// document. Each (app, user) pair maps to its own independent container and
// persisted byte stream.
func AppKey(documentID, appID, userID string) string {
	return fmt.Sprintf("%s-%s-%s", documentID, appID, userID)
}
