package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// PANLength is the number of digits in an issued card number.
const PANLength = 16

// CardSecrets is a freshly issued set of plaintext card identifiers.
type CardSecrets struct {
	PAN string
	CVV string
	PIN string
}

// Issuer generates card numbers, CVVs and PINs from a cryptographic source.
// It does not guarantee PAN uniqueness; the store rejects duplicates and the
// caller re-issues.
type Issuer struct {
	rand io.Reader
}

// NewIssuer creates an issuer backed by crypto/rand.
func NewIssuer() *Issuer {
	return &Issuer{rand: rand.Reader}
}

// NewIssuerWithReader creates an issuer reading randomness from r.
func NewIssuerWithReader(r io.Reader) *Issuer {
	return &Issuer{rand: r}
}

// Issue generates a PAN, CVV and PIN.
func (i *Issuer) Issue() (*CardSecrets, error) {
	pan, err := i.PAN()
	if err != nil {
		return nil, err
	}
	cvv, err := i.digits(3)
	if err != nil {
		return nil, fmt.Errorf("generate cvv: %w", err)
	}
	pin, err := i.digits(4)
	if err != nil {
		return nil, fmt.Errorf("generate pin: %w", err)
	}
	return &CardSecrets{PAN: pan, CVV: cvv, PIN: pin}, nil
}

// PAN generates a Luhn-valid 16 digit card number.
func (i *Issuer) PAN() (string, error) {
	body, err := i.digits(PANLength - 1)
	if err != nil {
		return "", fmt.Errorf("generate card number: %w", err)
	}
	return body + string(rune('0'+luhnCheckDigit(body))), nil
}

// digits returns n uniformly random decimal digits, zero padded.
func (i *Issuer) digits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for k := 0; k < n; k++ {
		d, err := rand.Int(i.rand, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// luhnCheckDigit computes the digit that makes body+digit pass the Luhn check.
func luhnCheckDigit(body string) int {
	sum := 0
	double := true
	for k := len(body) - 1; k >= 0; k-- {
		d := int(body[k] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
