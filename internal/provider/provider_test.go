package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := Load()
	require.NoError(t, err)
	return d
}

func TestLoadEmbeddedData(t *testing.T) {
	d := newDirectory(t)
	assert.NotEmpty(t, d.Providers())
	assert.NotEmpty(t, d.byService["mri"])
}

func TestFindMatchesPrefersInStateShortWait(t *testing.T) {
	d := newDirectory(t)

	matches := d.FindMatches(Criteria{ServiceType: "MRI", State: "CO", Zip: "80205"})
	require.NotEmpty(t, matches)

	// Summit Imaging: in state, accepting, 2-day wait, shared zip prefix.
	assert.Equal(t, "Summit Imaging Center", matches[0].Provider.Name)
	assert.Equal(t, 100.0, matches[0].Score)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
	}
}

func TestFindMatchesSkipsInactiveAndFull(t *testing.T) {
	d := newDirectory(t)

	for _, m := range d.FindMatches(Criteria{ServiceType: "MRI"}) {
		assert.True(t, m.Provider.Active)
		assert.True(t, m.Provider.AcceptingNew)
	}
	// Metro Chiropractic is not accepting new patients.
	assert.Empty(t, d.FindMatches(Criteria{ServiceType: "Chiropractic", State: "TX"}))
}

func TestFindMatchesCarriesRate(t *testing.T) {
	d := newDirectory(t)

	matches := d.FindMatches(Criteria{ServiceType: "MRI", State: "CO", Carrier: "Acme Insurance"})
	require.NotEmpty(t, matches)
	require.NotNil(t, matches[0].Rate)
	assert.Equal(t, 595.00, matches[0].Rate.Amount)
}

func TestFindMatchesUnknownService(t *testing.T) {
	d := newDirectory(t)
	assert.Empty(t, d.FindMatches(Criteria{ServiceType: "Acupuncture"}))
}

func TestFindRateSpecificity(t *testing.T) {
	d := newDirectory(t)

	// State + body region beats state beats base.
	r := d.FindRate("Acme Insurance", "MRI", "CO", "Spine")
	require.NotNil(t, r)
	assert.Equal(t, 575.00, r.Amount)

	r = d.FindRate("Acme Insurance", "MRI", "CO", "Knee")
	require.NotNil(t, r)
	assert.Equal(t, 595.00, r.Amount)

	r = d.FindRate("Acme Insurance", "MRI", "TX", "")
	require.NotNil(t, r)
	assert.Equal(t, 650.00, r.Amount)

	// Region-only schedule applies when the state has no row.
	r = d.FindRate("Pinnacle Mutual", "MRI", "WA", "Spine")
	require.NotNil(t, r)
	assert.Equal(t, 640.00, r.Amount)

	assert.Nil(t, d.FindRate("Unknown Carrier", "MRI", "", ""))
}
