package distfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/errors"
)

const sampleDist = `<?xml version="1.0" encoding="UTF-8"?>
<installer-gui-script minSpecVersion="1">
    <title>SU_TITLE</title>
    <options customize="never" allow-external-scripts="no"/>
    <choices-outline ui="SoftwareUpdate">
        <line choice="su"/>
    </choices-outline>
    <choice id="su" suDisabledGroupID="SecUpd2023-001"
        title="SU_TITLE" versStr="1.0" description="SU_DESCRIPTION">
        <pkg-ref id="com.example.pkg.SecUpd" onConclusion="RequireRestart" version="1.0.0.0">SecUpd2023-001.pkg</pkg-ref>
        <pkg-ref id="com.example.pkg.SecUpdSupplement">Supplement.pkg</pkg-ref>
    </choice>
    <localization>
        <strings><![CDATA[
"SU_TITLE" = "Security Update 2023-001";
"SU_DESCRIPTION" = "This update is recommended for all users.";
// unused entry
"SU_SERVICEPACK" = "ignored";
]]></strings>
    </localization>
</installer-gui-script>`

func TestParseResolvesLocalizedFields(t *testing.T) {
	dist, err := Parse([]byte(sampleDist))
	require.NoError(t, err)

	assert.Equal(t, "SecUpd2023-001", dist.SUName)
	assert.Equal(t, "Security Update 2023-001", dist.Title)
	assert.Equal(t, "1.0", dist.Version)
	assert.Equal(t, "This update is recommended for all users.", dist.Description)

	require.Len(t, dist.PkgRefs, 2)
	main := dist.PkgRefs["com.example.pkg.SecUpd"]
	assert.Equal(t, "SecUpd2023-001.pkg", main.Name)
	assert.Equal(t, "RequireRestart", main.RestartAction)
	assert.Equal(t, "1.0.0.0", main.Version)

	supplement := dist.PkgRefs["com.example.pkg.SecUpdSupplement"]
	assert.Equal(t, "Supplement.pkg", supplement.Name)
	assert.Empty(t, supplement.RestartAction)
}

func TestParseIsPure(t *testing.T) {
	first, err := Parse([]byte(sampleDist))
	require.NoError(t, err)
	second, err := Parse([]byte(sampleDist))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseDefaultChoiceID(t *testing.T) {
	// No choices-outline reference: the "su" choice is used by default
	doc := `<?xml version="1.0"?>
<installer-gui-script>
    <choice id="su" title="Literal Title" versStr="2.0" description="plain"/>
    <choice id="other" title="Wrong" versStr="9.9"/>
</installer-gui-script>`

	dist, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Literal Title", dist.Title)
	assert.Equal(t, "2.0", dist.Version)
}

func TestParseOutlineSelectsChoice(t *testing.T) {
	doc := `<?xml version="1.0"?>
<installer-gui-script>
    <choices-outline ui="SoftwareUpdate">
        <line choice="special"/>
    </choices-outline>
    <choice id="su" title="Not this one"/>
    <choice id="special" title="This one" versStr="3.1"/>
</installer-gui-script>`

	dist, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "This one", dist.Title)
	assert.Equal(t, "3.1", dist.Version)
}

func TestParseMissingLocalizationLeavesLiterals(t *testing.T) {
	doc := `<?xml version="1.0"?>
<installer-gui-script>
    <choice id="su" title="SU_TITLE" versStr="1.0"/>
</installer-gui-script>`

	dist, err := Parse([]byte(doc))
	require.NoError(t, err)
	// No strings table: the indirection key is kept literal
	assert.Equal(t, "SU_TITLE", dist.Title)
	assert.Empty(t, dist.Description)
}

func TestParseMalformedDocument(t *testing.T) {
	_, err := Parse([]byte("<installer-gui-script><unclosed>"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "malformed documents must classify as invalid, not transient")
	assert.True(t, errors.Is(err, errors.ErrParsingFailed))
	// The XML decoder's diagnosis is kept in the chain
	assert.Contains(t, err.Error(), "XML syntax error")
}
