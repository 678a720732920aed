package panel

import (
	"fmt"
	"strings"
)

// Interaction tokens are the customIDs carried by panel buttons and selects.
// They are versioned and field-structured: encoded in one place here and
// decoded once at the component boundary, never re-parsed piecemeal.
//
// Wire form: "pd1:<action>:<panelID>[:<productID>[:<userID>]]"
// Panel and product ids are validated at config load to never contain ':'.

const tokenVersion = "pd1"

// Action identifies what a component press means.
type Action string

const (
	// ActionChannelDownload is a download button on a public channel panel.
	ActionChannelDownload Action = "dl"
	// ActionPersonalDownload is a download button on a user-scoped panel;
	// its token carries the authorized user id.
	ActionPersonalDownload Action = "pdl"
	// ActionPanelSelect is the panel chooser on the personal panel selector.
	ActionPanelSelect Action = "sel"
)

func (a Action) valid() bool {
	switch a {
	case ActionChannelDownload, ActionPersonalDownload, ActionPanelSelect:
		return true
	}
	return false
}

// Token is a decoded interaction token.
type Token struct {
	Action    Action
	PanelID   string
	ProductID string
	UserID    string
}

// Encode renders the token to its customID wire form.
func (t Token) Encode() string {
	parts := []string{tokenVersion, string(t.Action), t.PanelID}
	if t.ProductID != "" || t.UserID != "" {
		parts = append(parts, t.ProductID)
	}
	if t.UserID != "" {
		parts = append(parts, t.UserID)
	}
	return strings.Join(parts, ":")
}

// DecodeToken parses a customID. Unknown versions and actions fail; tokens on
// old messages from a previous scheme are simply not ours.
func DecodeToken(customID string) (Token, error) {
	parts := strings.Split(customID, ":")
	if len(parts) < 3 || len(parts) > 5 {
		return Token{}, fmt.Errorf("malformed interaction token")
	}
	if parts[0] != tokenVersion {
		return Token{}, fmt.Errorf("unknown interaction token version %q", parts[0])
	}
	t := Token{Action: Action(parts[1]), PanelID: parts[2]}
	if !t.Action.valid() {
		return Token{}, fmt.Errorf("unknown interaction action %q", parts[1])
	}
	if t.PanelID == "" {
		return Token{}, fmt.Errorf("interaction token missing panel id")
	}
	if len(parts) >= 4 {
		t.ProductID = parts[3]
	}
	if len(parts) == 5 {
		t.UserID = parts[4]
	}
	if t.Action != ActionPanelSelect && t.ProductID == "" {
		return Token{}, fmt.Errorf("interaction token missing product id")
	}
	if t.Action == ActionPersonalDownload && t.UserID == "" {
		return Token{}, fmt.Errorf("personal interaction token missing user id")
	}
	return t, nil
}

// IsToken reports whether a customID belongs to this scheme without fully
// decoding it. The component dispatcher uses it to ignore foreign components.
func IsToken(customID string) bool {
	return strings.HasPrefix(customID, tokenVersion+":")
}
