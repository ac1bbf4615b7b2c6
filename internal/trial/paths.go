package trial

// Store path layout for one session. The state document is the single
// CAS domain; messages are independent append-only children; the lock
// and verdict are point records.
//
//	sessions/<id>/state
//	sessions/<id>/lock
//	sessions/<id>/verdict
//	sessions/<id>/messages/<message-id>

func StatePath(sessionID string) string {
	return "sessions/" + sessionID + "/state"
}

func LockPath(sessionID string) string {
	return "sessions/" + sessionID + "/lock"
}

func VerdictPath(sessionID string) string {
	return "sessions/" + sessionID + "/verdict"
}

func MessagePath(sessionID, messageID string) string {
	return MessagesPrefix(sessionID) + messageID
}

func MessagesPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/messages/"
}
