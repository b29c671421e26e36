// Package prompts holds the model prompts and canned agent lines as Go
// code, so prompt changes are code-reviewed and versioned with the
// logic that depends on their exact wording.
package prompts
