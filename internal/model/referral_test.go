package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferral_MissingCriticalFields(t *testing.T) {
	r := &Referral{}
	assert.ElementsMatch(t, []string{"claim_number", "claimant_name", "carrier"}, r.MissingCriticalFields())

	r = &Referral{ClaimNumber: "WC-1", ClaimantFirstName: "John", ClaimantLastName: "Smith", Carrier: "Acme Mutual"}
	assert.Empty(t, r.MissingCriticalFields())

	// Whitespace-only values do not count.
	r = &Referral{ClaimNumber: "  ", ClaimantLastName: "Smith", Carrier: "Acme"}
	assert.Equal(t, []string{"claim_number"}, r.MissingCriticalFields())
}

func TestReferralStatus_Terminal(t *testing.T) {
	assert.True(t, ReferralStatusCompleted.Terminal())
	assert.True(t, ReferralStatusRejected.Terminal())
	assert.False(t, ReferralStatusPending.Terminal())
	assert.False(t, ReferralStatusSubmitted.Terminal())
}

func TestQueueItemStatus_Active(t *testing.T) {
	assert.True(t, QueueItemPending.Active())
	assert.True(t, QueueItemClaimed.Active())
	assert.False(t, QueueItemCompleted.Active())
	assert.False(t, QueueItemExpired.Active())
}

func TestLineItem_Valid(t *testing.T) {
	assert.False(t, (&LineItem{Confidence: 0, Source: LineItemSourceExtraction}).Valid())
	assert.True(t, (&LineItem{Confidence: 55, Source: LineItemSourceExtraction}).Valid())
	assert.True(t, (&LineItem{Confidence: 0, Source: LineItemSourceManual}).Valid())
}

func TestEntityRef_String(t *testing.T) {
	assert.Equal(t, "referral/abc", ReferralRef("abc").String())
	assert.Equal(t, "message/m1", MessageRef("m1").String())
}
