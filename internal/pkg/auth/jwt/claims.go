package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a pxplace identity token.
// Tokens are minted by the account service; this server only verifies them.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the stable account identifier, used as the placer id in history.
	ID string `json:"id"`

	// Name is the display name other users see (e.g. as alert sender).
	Name string `json:"name"`

	// Permissions lists resolved permission nodes such as "board.place" or "user.admin".
	Permissions []string `json:"permissions"`

	// Subscribed marks a qualifying subscriber (subscriber-only mode, stack bonus).
	Subscribed bool `json:"subscribed"`
}
