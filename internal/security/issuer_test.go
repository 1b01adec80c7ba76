package security

import (
	"bytes"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	panPattern = regexp.MustCompile(`^\d{16}$`)
	cvvPattern = regexp.MustCompile(`^\d{3}$`)
	pinPattern = regexp.MustCompile(`^\d{4}$`)
)

func TestIssuer_Issue(t *testing.T) {
	issuer := NewIssuer()

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		secrets, err := issuer.Issue()
		require.NoError(t, err)

		assert.Regexp(t, panPattern, secrets.PAN)
		assert.Regexp(t, cvvPattern, secrets.CVV)
		assert.Regexp(t, pinPattern, secrets.PIN)
		assert.True(t, validLuhn(secrets.PAN), "pan %s should pass luhn", secrets.PAN)

		seen[secrets.PAN] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}

func TestIssuer_ZeroPadding(t *testing.T) {
	// An all-zero source yields the lowest digits everywhere.
	issuer := NewIssuerWithReader(bytes.NewReader(make([]byte, 4096)))

	secrets, err := issuer.Issue()
	require.NoError(t, err)

	assert.Equal(t, "0000000000000000", secrets.PAN)
	assert.Equal(t, "000", secrets.CVV)
	assert.Equal(t, "0000", secrets.PIN)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestIssuer_RandomnessFailure(t *testing.T) {
	issuer := NewIssuerWithReader(failingReader{})

	secrets, err := issuer.Issue()
	assert.Error(t, err)
	assert.Nil(t, secrets)
}

func TestValidLuhn(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"4242424242424242", true},
		{"5555555555554444", true},
		{"4242424242424241", false},
		{"42424242", false},
		{"4242a24242424242", false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			assert.Equal(t, tt.want, validLuhn(tt.number))
		})
	}
}

// validLuhn validates a card number using the Luhn algorithm.
func validLuhn(number string) bool {
	if len(number) < 13 || len(number) > 19 {
		return false
	}

	sum := 0
	isEven := false

	// Process from right to left
	for k := len(number) - 1; k >= 0; k-- {
		c := number[k]
		if c < '0' || c > '9' {
			return false
		}
		digit := int(c - '0')

		if isEven {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		isEven = !isEven
	}

	return sum%10 == 0
}
