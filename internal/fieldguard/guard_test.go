package fieldguard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vida-gateway/internal/audit"
	"vida-gateway/pkg/domain"
)

type GuardSuite struct {
	suite.Suite
	recorder *audit.Recorder
	guard    *Guard
	ctx      context.Context
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	recorder, err := audit.NewRecorder(audit.NewInMemoryStore(), "test-integrity-key", 24*time.Hour)
	s.Require().NoError(err)
	s.recorder = recorder

	keyring, err := NewKeyring([]byte("unit-test-master-key-32-bytes!!!"))
	s.Require().NoError(err)
	guard, err := NewGuard(keyring, recorder)
	s.Require().NoError(err)
	s.guard = guard
	s.ctx = context.Background()
}

func (s *GuardSuite) payload() map[string]any {
	return map[string]any{
		"record_id":      "rec-1",
		"mrn":            "MRN-1001",
		"contact_phone":  "+47 11 22 33 44",
		"date_of_birth":  "1970-01-01",
		"clinical_notes": "Allergic to penicillin.",
		"ward":           "B4",
	}
}

func (s *GuardSuite) TestProtect() {
	sealed, err := s.guard.Protect(s.payload())
	s.Require().NoError(err)

	s.Run("protected fields become envelopes", func() {
		for _, name := range []string{"mrn", "contact_phone", "date_of_birth", "clinical_notes"} {
			env, ok := sealed[name].(Envelope)
			s.Require().True(ok, "field %s should be sealed", name)
			s.Equal("aes-256-gcm", env.Alg)
			s.Equal(name, env.Field)
			s.NotEmpty(env.Nonce)
			s.NotEmpty(env.Ciphertext)
			s.NotContains(env.Ciphertext, s.payload()[name])
		}
	})

	s.Run("unregistered fields pass through", func() {
		s.Equal("rec-1", sealed["record_id"])
		s.Equal("B4", sealed["ward"])
	})

	s.Run("sealing is non-deterministic", func() {
		again, err := s.guard.Protect(s.payload())
		s.Require().NoError(err)
		s.NotEqual(sealed["mrn"], again["mrn"])
	})

	s.Run("non-string protected value is rejected", func() {
		_, err := s.guard.Protect(map[string]any{"mrn": 42})
		s.Error(err)
	})
}

func (s *GuardSuite) TestRevealRoundTrip() {
	original := s.payload()
	sealed, err := s.guard.Protect(original)
	s.Require().NoError(err)

	visible := domain.NewFieldSet("mrn", "contact_phone", "date_of_birth", "clinical_notes")
	view, err := s.guard.Reveal(s.ctx, "records/rec-1", "user-1", sealed, visible)
	s.Require().NoError(err)

	s.Run("visible fields decrypt bit for bit", func() {
		for _, name := range visible.Names() {
			s.Equal(original[name], view[name])
		}
	})

	s.Run("reveal is audited with the touched fields", func() {
		recs, err := s.recorder.Query(s.ctx, audit.Filter{Action: audit.ActionFieldReveal})
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.ElementsMatch(
			[]string{"clinical_notes", "contact_phone", "date_of_birth", "mrn"},
			recs[0].TouchedFields,
		)
	})
}

func (s *GuardSuite) TestRevealMasksHiddenFields() {
	sealed, err := s.guard.Protect(s.payload())
	s.Require().NoError(err)

	view, err := s.guard.Reveal(s.ctx, "records/rec-1", "user-1", sealed, domain.NewFieldSet("mrn"))
	s.Require().NoError(err)

	s.Run("hidden fields are masked by class, not omitted", func() {
		s.Contains(view, "contact_phone")
		s.Equal(maskContact, view["contact_phone"])
		s.Equal(maskDate, view["date_of_birth"])
		s.Equal(maskFreeText, view["clinical_notes"])
	})

	s.Run("visible field is plaintext", func() {
		s.Equal("MRN-1001", view["mrn"])
	})

	s.Run("mask never leaks ciphertext", func() {
		env := sealed["contact_phone"].(Envelope)
		s.NotEqual(env.Ciphertext, view["contact_phone"])
	})
}

func (s *GuardSuite) TestRevealAfterJSONRoundTrip() {
	sealed, err := s.guard.Protect(s.payload())
	s.Require().NoError(err)

	raw, err := json.Marshal(sealed)
	s.Require().NoError(err)
	var decoded map[string]any
	s.Require().NoError(json.Unmarshal(raw, &decoded))

	view, err := s.guard.Reveal(s.ctx, "records/rec-1", "user-1", decoded, domain.NewFieldSet("mrn"))
	s.Require().NoError(err)
	s.Equal("MRN-1001", view["mrn"])
}

func (s *GuardSuite) TestIntegrityFailureDegradesField() {
	sealed, err := s.guard.Protect(s.payload())
	s.Require().NoError(err)

	env := sealed["mrn"].(Envelope)
	env.Ciphertext = "Y29ycnVwdGVk" // valid base64, wrong bytes
	sealed["mrn"] = env

	visible := domain.NewFieldSet("mrn", "contact_phone")
	view, err := s.guard.Reveal(s.ctx, "records/rec-1", "user-1", sealed, visible)
	s.Require().NoError(err)

	s.Run("corrupt field comes back null", func() {
		s.Contains(view, "mrn")
		s.Nil(view["mrn"])
	})

	s.Run("other fields are unaffected", func() {
		s.Equal("+47 11 22 33 44", view["contact_phone"])
	})

	s.Run("failure is audited as critical", func() {
		recs, err := s.recorder.Query(s.ctx, audit.Filter{Action: audit.ActionFieldIntegrity})
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.Equal(audit.SeverityCritical, recs[0].Severity)
		s.Equal([]string{"mrn"}, recs[0].TouchedFields)
	})
}

// Keys are derived per field; an envelope moved to another field name must
// not decrypt.
func (s *GuardSuite) TestEnvelopeBoundToField() {
	sealed, err := s.guard.Protect(map[string]any{"mrn": "MRN-1001", "ssn": "010170-12345"})
	s.Require().NoError(err)

	swapped := sealed["ssn"].(Envelope)
	swapped.Field = "mrn"
	sealed["mrn"] = swapped

	view, err := s.guard.Reveal(s.ctx, "records/rec-1", "user-1", sealed, domain.NewFieldSet("mrn", "ssn"))
	s.Require().NoError(err)
	s.Nil(view["mrn"])
}

func (s *GuardSuite) TestKeyringValidation() {
	_, err := NewKeyring([]byte("short"))
	s.Error(err)

	_, err = NewGuard(nil, s.recorder)
	s.Error(err)

	keyring, err := NewKeyring([]byte("unit-test-master-key-32-bytes!!!"))
	s.Require().NoError(err)
	_, err = NewGuard(keyring, nil)
	s.Error(err)
}
