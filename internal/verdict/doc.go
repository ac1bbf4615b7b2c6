// Package verdict turns an accumulated courtroom conversation into a
// structured judgment request, sends it to the generative judgment
// service, and validates the structured response before it is allowed
// anywhere near the session state.
package verdict
