package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainuser "blockhyre/internal/domain/user"
)

func TestNormalizeTemplateRewritesDialectSpellings(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{{if .A}}a{{elsif .B}}b{{end}}", "{{if .A}}a{{else if .B}}b{{end}}"},
		{"{{if .A}}a{{elif .B}}b{{end}}", "{{if .A}}a{{else if .B}}b{{end}}"},
		{"{{if .A}}a{{- elsif .B}}b{{end}}", "{{if .A}}a{{- else if .B}}b{{end}}"},
		{"{{.elsewhere}}", "{{.elsewhere}}"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeTemplate(tc.in), tc.in)
	}
}

func TestRenderSystemTemplatePerRole(t *testing.T) {
	data := TemplateData{"RenterName": "Rita", "OwnerName": "Olive", "ListingTitle": "Tile Saw"}

	ownerText, err := RenderSystemTemplate("LISTING_INQUIRY", domainuser.RoleOwner, data)
	require.NoError(t, err)
	assert.Equal(t, "Rita is interested in hiring your Tile Saw. Reply here to arrange the hire.", ownerText)

	renterText, err := RenderSystemTemplate("LISTING_INQUIRY", domainuser.RoleRenter, data)
	require.NoError(t, err)
	assert.NotEqual(t, ownerText, renterText)
	assert.Contains(t, renterText, "You asked Olive")
}

func TestRenderSystemTemplateDialectBranches(t *testing.T) {
	// No renter name: the elsif branch picks the email.
	text, err := RenderSystemTemplate("RENTAL_CONFIRMED", domainuser.RoleOwner, TemplateData{
		"RenterEmail":  "rita@example.com",
		"ListingTitle": "Tile Saw",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "rita@example.com paid the deposit")

	// Neither name nor email: the else branch.
	text, err = RenderSystemTemplate("RENTAL_CONFIRMED", domainuser.RoleOwner, TemplateData{
		"ListingTitle": "Tile Saw",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "The renter paid the deposit")
}

func TestRenderSystemTemplateMissingDataRendersEmpty(t *testing.T) {
	text, err := RenderSystemTemplate("LISTING_INQUIRY", domainuser.RoleOwner, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "is interested in hiring your")
}

func TestRenderSystemTemplateUnknownName(t *testing.T) {
	_, err := RenderSystemTemplate("NOT_A_TEMPLATE", domainuser.RoleOwner, nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}
