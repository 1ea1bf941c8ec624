/*
codec.go - Ticket code generation and offline verification

PURPOSE:
  Produces the printable ticket identifier that is encoded in QR codes and
  typed at the door. A code self-certifies: the scanner recomputes the
  checksum from the random segment and the server secret, so a fabricated
  code is rejected without touching the inventory.

CODE SHAPE (stable, printed on issued tickets):
  T-<12 symbols from A-Z0-9>-<4 uppercase hex>

  T-K7Q2M9ZP4T1B-37E6
  │ │            └── checksum of segment+secret
  │ └── random segment (~62 bits)
  └── prefix

CHECKSUM:
  h = h*31 + c over the UTF-16 units of segment+secret, folded to int32,
  absolute value, hex, first four characters upper-cased. Codes already in
  circulation were minted with this function, so it must not change.

USAGE:
  codec, err := ticketcode.New(secret)
  code, err := codec.Generate(func(c string) bool { return seen[c] })
  if err := codec.Verify(code); err != nil {
      // ErrMalformedCode or ErrChecksumMismatch
  }

SEE ALSO:
  - engine/lifecycle.go: issuance and the validate transition
  - cmd/ticketctl: offline verification tool
*/
package ticketcode

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	Prefix         = "T"
	SegmentLength  = 12
	ChecksumLength = 4
	Alphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultSecret is the development secret. Production deployments must
	// configure their own.
	DefaultSecret = "BACO_SECURE_V3"

	defaultMaxAttempts = 64
)

var (
	// ErrMalformedCode is returned when a code does not have the T-<12>-<4> shape.
	ErrMalformedCode = errors.New("malformed ticket code")

	// ErrChecksumMismatch is returned when the checksum does not match the
	// segment. Treated as a forgery, never as a lookup miss.
	ErrChecksumMismatch = errors.New("ticket code checksum mismatch")

	// ErrEmptySecret is returned by New when no secret is configured.
	ErrEmptySecret = errors.New("codec secret is empty")

	// ErrExhausted is returned when Generate cannot find a free code.
	ErrExhausted = errors.New("could not generate a unique ticket code")
)

// Codec generates and verifies ticket codes for one server secret.
type Codec struct {
	secret      string
	maxAttempts int
	random      func([]byte) (int, error)
}

// Option configures a Codec.
type Option func(*Codec)

// WithMaxAttempts bounds how many candidates Generate draws before giving up.
func WithMaxAttempts(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRandom replaces the entropy source. Tests use it to force collisions.
func WithRandom(read func([]byte) (int, error)) Option {
	return func(c *Codec) {
		if read != nil {
			c.random = read
		}
	}
}

// New creates a codec bound to secret.
func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret:      secret,
		maxAttempts: defaultMaxAttempts,
		random:      rand.Read,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate draws a fresh code. exists reports whether a candidate is already
// issued; it may be nil when the caller has no inventory to check against.
func (c *Codec) Generate(exists func(code string) bool) (string, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		segment, err := c.randomSegment()
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		sum := Checksum(segment, c.secret)
		// A digest below 0x1000 yields fewer than four hex digits; skip it
		// so every code keeps the fixed segment lengths.
		if len(sum) != ChecksumLength {
			continue
		}
		code := Prefix + "-" + segment + "-" + sum
		if exists != nil && exists(code) {
			continue
		}
		return code, nil
	}
	return "", ErrExhausted
}

// Verify checks shape and checksum. It never consults any store.
func (c *Codec) Verify(code string) error {
	segment, sum, err := Split(code)
	if err != nil {
		return err
	}
	want := Checksum(segment, c.secret)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sum)) != 1 {
		return ErrChecksumMismatch
	}
	return nil
}

// Valid is Verify as a boolean.
func (c *Codec) Valid(code string) bool {
	return c.Verify(code) == nil
}

// Split parses the code shape and returns its random segment and checksum.
func Split(code string) (segment, checksum string, err error) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[0] != Prefix {
		return "", "", ErrMalformedCode
	}
	segment, checksum = parts[1], parts[2]
	if len(segment) != SegmentLength || !onlyFrom(segment, Alphabet) {
		return "", "", ErrMalformedCode
	}
	if len(checksum) != ChecksumLength || !onlyFrom(checksum, "0123456789ABCDEF") {
		return "", "", ErrMalformedCode
	}
	return segment, checksum, nil
}

// Normalize cleans typed input: surrounding spaces and lowercase letters are
// the common keyboard mistakes at the door.
func Normalize(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// Checksum computes the keyed digest of segment. Exported for offline tools.
func Checksum(segment, secret string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(segment + secret)) {
		h = h*31 + int32(unit)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	hex := strconv.FormatInt(abs, 16)
	if len(hex) > ChecksumLength {
		hex = hex[:ChecksumLength]
	}
	return strings.ToUpper(hex)
}

func (c *Codec) randomSegment() (string, error) {
	out := make([]byte, 0, SegmentLength)
	buf := make([]byte, SegmentLength*2)
	// 252 is the largest multiple of 36 below 256; bytes above it are
	// discarded to keep the distribution uniform.
	const limit = 252
	for len(out) < SegmentLength {
		if _, err := c.random(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == SegmentLength {
				break
			}
		}
	}
	return string(out), nil
}

func onlyFrom(s, alphabet string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
