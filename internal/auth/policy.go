package auth

// CanModify reports whether the session user may edit or delete a message
// written by author. Identity is the free-text display name, so this is a
// plain equality check.
func CanModify(author, username string) bool {
	return username != "" && author == username
}
