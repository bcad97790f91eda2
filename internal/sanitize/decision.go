package sanitize

// Action tells the rendering collaborator what to do with a navigation.
type Action string

const (
	ActionContinue Action = "continue"
	ActionRedirect Action = "redirect"
)

// Decision is the synchronous answer to a navigation-starting event. The
// shell consults Decide before handing the URL to the rendering engine,
// which avoids re-entrant cancel/redirect loops.
type Decision struct {
	Action Action `json:"action"`
	// Target is the URL to navigate to instead. Set only for redirects.
	Target string `json:"target,omitempty"`
}

// Decide sanitizes uri and returns Redirect when the cleaned form differs.
// Redirect targets are already sanitized, so re-consulting Decide on the
// target always yields Continue.
func (e *Engine) Decide(uri string) Decision {
	result := e.Sanitize(uri)
	if result.Modified() {
		return Decision{Action: ActionRedirect, Target: result.SanitizedURL}
	}
	return Decision{Action: ActionContinue}
}
