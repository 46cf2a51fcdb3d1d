// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	"net/url"
	"strconv"
	"text/template"
	"time"

	"github.com/google/uuid"
)

// DefaultAvatarTemplate renders a player's skin head by UUID.
const DefaultAvatarTemplate = "https://cravatar.eu/avatar/{{.UUID}}/512"

// AvatarParams holds the parameters for rendering the avatar template.
type AvatarParams struct {
	Name string
	UUID string
}

// AvatarTemplate derives a player's icon URL from their identity.
type AvatarTemplate struct {
	tmpl *template.Template
}

// NewAvatarTemplate parses text, falling back to DefaultAvatarTemplate when
// it is empty.
func NewAvatarTemplate(text string) (*AvatarTemplate, error) {
	if text == "" {
		text = DefaultAvatarTemplate
	}
	tmpl, err := template.New("avatar").Parse(text)
	if err != nil {
		return nil, err
	}
	return &AvatarTemplate{tmpl: tmpl}, nil
}

// URL renders the icon URL with a "u" query parameter holding at in unix
// milliseconds, so image caches on the chat side refresh per post.
func (a *AvatarTemplate) URL(name string, id uuid.UUID, at time.Time) string {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, AvatarParams{Name: name, UUID: id.String()}); err != nil {
		return ""
	}
	stamp := strconv.FormatInt(at.UnixMilli(), 10)
	u, err := url.Parse(buf.String())
	if err != nil {
		return buf.String() + "?u=" + stamp
	}
	q := u.Query()
	q.Set("u", stamp)
	u.RawQuery = q.Encode()
	return u.String()
}
