package lineitem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/model"
)

func TestDecomposeMultipleServices(t *testing.T) {
	drafts := Decompose("MRI lumbar spine w/o contrast, MRI cervical spine w/o contrast", 85)
	require.Len(t, drafts, 2)

	assert.Equal(t, "MRI", drafts[0].ServiceType)
	assert.Equal(t, model.ModalityImaging, drafts[0].Modality)
	assert.Equal(t, "Lumbar Spine", drafts[0].BodyRegion)
	require.NotNil(t, drafts[0].WithContrast)
	assert.False(t, *drafts[0].WithContrast)
	assert.Equal(t, 85, drafts[0].Confidence)

	assert.Equal(t, "Cervical Spine", drafts[1].BodyRegion)
}

func TestDecomposeLateralityAndContrast(t *testing.T) {
	drafts := Decompose("CT right shoulder with contrast", 90)
	require.Len(t, drafts, 1)

	d := drafts[0]
	assert.Equal(t, "CT Scan", d.ServiceType)
	assert.Equal(t, "Shoulder", d.BodyRegion)
	assert.Equal(t, "right", d.Laterality)
	require.NotNil(t, d.WithContrast)
	assert.True(t, *d.WithContrast)
}

func TestDecomposeBilateral(t *testing.T) {
	drafts := Decompose("X-ray bilateral knees", 80)
	require.Len(t, drafts, 1)
	assert.Equal(t, "X-Ray", drafts[0].ServiceType)
	assert.Equal(t, "Knee", drafts[0].BodyRegion)
	assert.Equal(t, "bilateral", drafts[0].Laterality)
}

func TestDecomposeQuantity(t *testing.T) {
	drafts := Decompose("PT eval x 12 visits", 88)
	require.Len(t, drafts, 1)
	assert.Equal(t, "PT Evaluation", drafts[0].ServiceType)
	assert.Equal(t, model.ModalityPhysicalTherapy, drafts[0].Modality)
	assert.Equal(t, 12, drafts[0].Quantity)

	drafts = Decompose("physical therapy 8 sessions", 88)
	require.Len(t, drafts, 1)
	assert.Equal(t, "PT Treatment", drafts[0].ServiceType)
	assert.Equal(t, 8, drafts[0].Quantity)
}

func TestDecomposeWithAndWithoutStaysOneService(t *testing.T) {
	drafts := Decompose("MRI brain with and without contrast", 92)
	require.Len(t, drafts, 1)
	assert.Equal(t, "MRI", drafts[0].ServiceType)
	assert.Equal(t, "Brain", drafts[0].BodyRegion)
}

func TestDecomposeAndSplitsServices(t *testing.T) {
	drafts := Decompose("MRI lumbar spine and chiropractic care", 75)
	require.Len(t, drafts, 2)
	assert.Equal(t, "MRI", drafts[0].ServiceType)
	assert.Equal(t, "Chiropractic", drafts[1].ServiceType)
	assert.Equal(t, model.ModalityChiropractic, drafts[1].Modality)
}

func TestDecomposeParenthesesDoNotSplit(t *testing.T) {
	drafts := Decompose("Injection (epidural, L4-L5), PT treatment", 70)
	require.Len(t, drafts, 2)
	assert.Equal(t, "Injection", drafts[0].ServiceType)
	assert.Equal(t, model.ModalityInjection, drafts[0].Modality)
	assert.Equal(t, "PT Treatment", drafts[1].ServiceType)
}

func TestDecomposeSemicolonsAndNewlines(t *testing.T) {
	drafts := Decompose("IME; FCE\nUltrasound left wrist", 82)
	require.Len(t, drafts, 3)
	assert.Equal(t, "IME", drafts[0].ServiceType)
	assert.Equal(t, "FCE", drafts[1].ServiceType)
	assert.Equal(t, "Ultrasound", drafts[2].ServiceType)
	assert.Equal(t, "Wrist", drafts[2].BodyRegion)
	assert.Equal(t, "left", drafts[2].Laterality)
}

func TestDecomposeEmptyYieldsPlaceholder(t *testing.T) {
	drafts := Decompose("", 0)
	require.Len(t, drafts, 1)
	assert.Equal(t, 0, drafts[0].Confidence)
	assert.Empty(t, drafts[0].ServiceType)
}

func TestDecomposeUnrecognizedKeepsText(t *testing.T) {
	drafts := Decompose("see attached authorization", 40)
	require.Len(t, drafts, 1)
	assert.Equal(t, "see attached authorization", drafts[0].Description)
	assert.Empty(t, drafts[0].ServiceType)
	assert.Empty(t, drafts[0].Modality)
}

func TestShortTokensMatchWholeWordsOnly(t *testing.T) {
	// "fracture" contains "ct" but is not a CT scan.
	drafts := Decompose("evaluate ankle fracture", 60)
	require.Len(t, drafts, 1)
	assert.Empty(t, drafts[0].ServiceType)
	assert.Equal(t, "Ankle", drafts[0].BodyRegion)

	// "bilateral" contains "l" and "lt" substrings but is not left-sided.
	drafts = Decompose("PT bilateral hands", 60)
	require.Len(t, drafts, 1)
	assert.Equal(t, "bilateral", drafts[0].Laterality)
}
