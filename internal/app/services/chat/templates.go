package chat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	domainuser "blockhyre/internal/domain/user"
)

var ErrUnknownTemplate = errors.New("chat: unknown system template")

// TemplateData is the context a system-message template renders against.
type TemplateData map[string]string

// System templates are authored in the marketplace's templating dialect,
// which accepts "elsif"/"elif" as alternate spellings of "else if". Sources
// are normalized before parsing so the quirk never reaches callers. Each
// template carries role-specific wording: both recipients see one logical
// event, phrased for their side of the hire.
var systemTemplates = map[string]map[domainuser.Role]string{
	"LISTING_INQUIRY": {
		domainuser.RoleOwner:  "{{.RenterName}} is interested in hiring your {{.ListingTitle}}. Reply here to arrange the hire.",
		domainuser.RoleRenter: "You asked {{.OwnerName}} about {{.ListingTitle}}. They usually reply within a day.",
	},
	"RENTAL_CONFIRMED": {
		domainuser.RoleOwner:  "{{if .RenterName}}{{.RenterName}}{{elsif .RenterEmail}}{{.RenterEmail}}{{else}}The renter{{end}} paid the deposit for {{.ListingTitle}}. Arrange handover in this thread.",
		domainuser.RoleRenter: "Your deposit for {{.ListingTitle}} is confirmed. Agree on pickup with {{if .OwnerName}}{{.OwnerName}}{{elif .OwnerEmail}}{{.OwnerEmail}}{{else}}the owner{{end}}.",
	},
	"RENTAL_RETURNED": {
		domainuser.RoleOwner:  "{{.RenterName}} marked {{.ListingTitle}} as returned. Confirm the tool is back in good shape.",
		domainuser.RoleRenter: "You marked {{.ListingTitle}} as returned. {{.OwnerName}} will confirm shortly.",
	},
}

var dialectElseIf = regexp.MustCompile(`\{\{(-?\s*)(?:elsif|elif)\b`)

// normalizeTemplate rewrites alternate else-if spellings into the form the
// parser accepts.
func normalizeTemplate(src string) string {
	return dialectElseIf.ReplaceAllString(src, "{{${1}else if")
}

// RenderSystemTemplate renders the named template variant for a recipient
// role. Missing template names and render failures are reported, never
// rendered as broken output.
func RenderSystemTemplate(name string, role domainuser.Role, data TemplateData) (string, error) {
	variants, ok := systemTemplates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	src, ok := variants[role]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s variant", ErrUnknownTemplate, name, role)
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(normalizeTemplate(src))
	if err != nil {
		return "", fmt.Errorf("chat: parse template %s: %w", name, err)
	}
	if data == nil {
		data = TemplateData{}
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("chat: render template %s: %w", name, err)
	}
	return strings.TrimSpace(out.String()), nil
}
