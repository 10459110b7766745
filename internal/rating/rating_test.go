package rating

import (
	"testing"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRateTables_ForLOB(t *testing.T) {
	tables := RateTables{
		{ID: "auto-ca", LOBCode: "personal-auto", StateCode: "CA"},
		{ID: "auto-ny", LOBCode: "personal-auto", StateCode: "NY"},
		{ID: "ho-ca", LOBCode: "homeowners", StateCode: "CA"},
	}

	got := tables.ForLOB("personal-auto", "CA")
	assert.Len(t, got, 1)
	assert.Equal(t, "auto-ca", got[0].ID)

	assert.Len(t, tables.ForLOB("personal-auto", ""), 2)
	assert.Empty(t, tables.ForLOB("commercial-auto", "CA"))
}

func TestWorksheet_Validate(t *testing.T) {
	assert.NoError(t, Worksheet{FinalPremium: domain.NewMoney(1500, "USD")}.Validate())
	assert.Error(t, Worksheet{FinalPremium: domain.NewMoney(-1, "USD")}.Validate())
	assert.Error(t, Worksheet{FinalPremium: domain.Money{Cents: 100}}.Validate())
}
