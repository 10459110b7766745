package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid EUR", "EUR", false},
		{"valid USD", "USD", false},
		{"lowercase", "usd", true},
		{"mixed case", "Usd", true},
		{"too short", "US", true},
		{"too long", "USDT", true},
		{"empty", "", true},
		{"numbers", "123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid currency code")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("account_id", "A1"))
	err := ValidateRequired("account_id", "   ")
	require.Error(t, err)
	assert.Equal(t, "account_id is required", err.Error())
}

func TestValidateNonNegative(t *testing.T) {
	assert.NoError(t, ValidateNonNegative("premium", NewMoney(1500, "USD")))
	assert.NoError(t, ValidateNonNegative("premium", Zero("USD")))
	assert.Error(t, ValidateNonNegative("premium", NewMoney(-1, "USD")))
	assert.Error(t, ValidateNonNegative("premium", Money{Cents: 100, Currency: "us"}))
}

func TestValidateDocumentNumber(t *testing.T) {
	tests := []struct {
		number  string
		wantErr bool
	}{
		{"POL-001", false},
		{"QTE-2026-0042", false},
		{"END-7", false},
		{"pol-001", true},
		{"POL001", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			err := ValidateDocumentNumber("policy_number", tt.number)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("policy", "abc-123")
		assert.Equal(t, "NOT_FOUND: policy abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrInternal("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode string
	}{
		{"ErrNotFound", ErrNotFound("policy", "123"), CodeNotFound},
		{"ErrValidation", ErrValidation("bad input"), CodeValidation},
		{"ErrGovernanceBlocked", ErrGovernanceBlocked("approve_underwriting", []string{"limit"}), CodeGovernanceBlocked},
		{"ErrGovernanceEscalated", ErrGovernanceEscalated("approve_underwriting", "senior-uw"), CodeGovernanceEscalated},
		{"ErrUnavailable", ErrUnavailable("rating down"), CodeUnavailable},
		{"ErrInternal", ErrInternal("oops", nil), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
			assert.True(t, HasCode(fmt.Errorf("wrapped: %w", tt.err), tt.wantCode))
		})
	}
}

func TestTypedErrors_MatchThroughWrapping(t *testing.T) {
	id := uuid.New()
	conflict := fmt.Errorf("append: %w", &ConcurrencyConflictError{AggregateID: id, Expected: 3, Actual: 4})
	assert.True(t, IsConcurrencyConflict(conflict))
	assert.False(t, IsInvalidStateTransition(conflict))

	var cc *ConcurrencyConflictError
	require.True(t, errors.As(conflict, &cc))
	assert.Equal(t, 3, cc.Expected)
	assert.Equal(t, 4, cc.Actual)
	assert.Contains(t, cc.Error(), "expected version 3, actual 4")

	assert.True(t, cc.ActualKnown())

	dup := &ConcurrencyConflictError{AggregateID: id, Expected: 3, Actual: UnknownVersion}
	assert.False(t, dup.ActualKnown())
	assert.Contains(t, dup.Error(), "version 4 already taken")
	assert.NotContains(t, dup.Error(), "-1")

	ist := fmt.Errorf("command: %w", &InvalidStateTransitionError{Current: "quoted", Attempted: "SUBMIT"})
	assert.True(t, IsInvalidStateTransition(ist))
	assert.Contains(t, ist.Error(), "SUBMIT is not allowed from quoted")
}

// --- Money Tests ---

func TestNewMoney_RoundsToCents(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{1500, 150000},
		{0.125, 13},
		{-0.125, -13},
		{19.999, 2000},
		{0, 0},
		{1.005, 101},
		{-1.005, -101},
		{1.015, 102},
		{2.675, 268},
		{0.285, 29},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.amount), func(t *testing.T) {
			assert.Equal(t, tt.want, NewMoney(tt.amount, "USD").Cents)
		})
	}
}

func TestNewMoney_AgreesWithParseMoney(t *testing.T) {
	amounts := []float64{1.005, -1.005, 1.015, 2.675, 0.285, 1.115, 10.045, 99.995, -0.005, 1500, 0.1, 123456.785}
	for _, amount := range amounts {
		t.Run(fmt.Sprint(amount), func(t *testing.T) {
			parsed, err := ParseMoney(strconv.FormatFloat(amount, 'f', -1, 64), "USD")
			require.NoError(t, err)
			assert.Equal(t, parsed, NewMoney(amount, "USD"))
		})
	}
}

func TestNewMoney_DefaultCurrency(t *testing.T) {
	assert.Equal(t, "USD", NewMoney(1, "").Currency)
	assert.Equal(t, "USD", Zero("").Currency)
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1500", 150000, false},
		{"1500.00", 150000, false},
		{"12.5", 1250, false},
		{"-12.5", -1250, false},
		{"+3.01", 301, false},
		{"99.995", 10000, false},
		{"99.994", 9999, false},
		{".75", 75, false},
		{"1.", 100, false},
		{"", 0, true},
		{".", 0, true},
		{"abc", 0, true},
		{"1.2.3", 0, true},
		{"1e3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMoney(tt.in, "USD")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Cents)
		})
	}
}

func TestMoney_AddAndSub(t *testing.T) {
	a := NewMoney(1500, "USD")
	b := NewMoney(50, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, NewMoney(1550, "USD"), sum)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, NewMoney(1450, "USD"), diff)
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	a := NewMoney(1500, "USD")
	_, err := a.Add(NewMoney(50, "EUR"))

	var mismatch *CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "USD", mismatch.Expected)
	assert.Equal(t, "EUR", mismatch.Actual)

	_, err = a.Sub(NewMoney(50, "EUR"))
	assert.ErrorAs(t, err, &mismatch)
}

func TestMoney_Decimal(t *testing.T) {
	assert.Equal(t, "1500.00", NewMoney(1500, "USD").Decimal())
	assert.Equal(t, "-0.05", Money{Cents: -5, Currency: "USD"}.Decimal())
	assert.Equal(t, "12.30 EUR", NewMoney(12.3, "EUR").String())
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(NewMoney(1500, "USD"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 1500.00, "currency": "USD"}`, string(data))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 19.99, "currency": "EUR"}`), &m))
	assert.Equal(t, Money{Cents: 1999, Currency: "EUR"}, m)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": 1.5e3, "currency": "USD"}`), &m))
	assert.Equal(t, int64(150000), m.Cents)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": 1.005e0, "currency": "USD"}`), &m))
	assert.Equal(t, int64(101), m.Cents)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": 7}`), &m))
	assert.Equal(t, Money{Cents: 700, Currency: "USD"}, m)
}

// --- Date Tests ---

func TestDate_JSONAndArithmetic(t *testing.T) {
	d := MustDate("2026-03-01")
	assert.Equal(t, "2027-03-01", d.AddYears(1).String())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01"`, string(data))

	var back Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, d.Equal(back.Time))

	var empty Date
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())
	assert.Nil(t, empty.Ptr())

	_, err = ParseDate("03/01/2026")
	assert.Error(t, err)
}

func TestDateOf_TruncatesToUTC(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "2026-03-02", DateOf(ts).String())
}

// --- Event Payload Tests ---

func TestDecodePayload_KnowsEveryType(t *testing.T) {
	types := EventTypes()
	assert.Len(t, types, 26)
	for _, et := range types {
		p, err := DecodePayload(et, json.RawMessage(`{}`))
		require.NoError(t, err, et)
		assert.Equal(t, et, p.EventType())
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	_, err := DecodePayload("PolicyTeleported", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestDecodePayload_RestoresFields(t *testing.T) {
	orig := EndorsementApplied{EndorsementNumber: "END-1", PremiumChange: NewMoney(50, "USD")}
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	p, err := DecodePayload(EventEndorsementApplied, raw)
	require.NoError(t, err)
	assert.Equal(t, orig, p)
}

func TestDecodePayload_NullBody(t *testing.T) {
	p, err := DecodePayload(EventSubmitted, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, Submitted{}, p)
}

func TestNewOutboxDraft(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Event{
		ID:            uuid.New(),
		AggregateID:   id,
		AggregateType: AggregatePolicy,
		Version:       7,
		Payload:       PolicyBound{PolicyNumber: "POL-001", EffectiveDate: MustDate("2026-03-01"), Premium: NewMoney(1500, "USD")},
		Metadata: Metadata{
			CorrelationID: "corr-1",
			Actor:         Actor{Type: ActorAgent, ID: "agent-7", Name: "binder"},
			Timestamp:     ts,
		},
	}

	d, err := NewOutboxDraft(e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, d.EventID)
	assert.Equal(t, EventPolicyBound, d.EventType)
	assert.Equal(t, id.String(), d.PartitionKey)
	assert.Equal(t, 7, d.Version)
	assert.Equal(t, ts, d.OccurredAt)
	assert.Contains(t, string(d.Payload), `"policyNumber":"POL-001"`)
	assert.Contains(t, string(d.Headers), `"correlation_id":"corr-1"`)
}
