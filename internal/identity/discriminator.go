// Package identity defines the small value types shared by the provider
// adapters and the user model: the 4-digit Discriminator tag and Discord's
// Snowflake id.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Discriminator parse failures. All three wrap ErrInvalidDiscriminator so
// callers can treat them uniformly as validation errors.
var (
	ErrInvalidDiscriminator = errors.New("invalid discriminator")

	// ErrDiscriminatorRange: numeric value outside [0, 9999].
	ErrDiscriminatorRange = fmt.Errorf("%w: out of range", ErrInvalidDiscriminator)
	// ErrDiscriminatorPattern: string form is not exactly 4 ASCII digits.
	ErrDiscriminatorPattern = fmt.Errorf("%w: must be 4 digits 0-9", ErrInvalidDiscriminator)
	// ErrDiscriminatorFormat: string form is not numeric at all.
	ErrDiscriminatorFormat = fmt.Errorf("%w: not a number", ErrInvalidDiscriminator)
)

// Discriminator is a user tag in [0, 9999], always displayed zero-padded to
// 4 digits. An absent discriminator is represented as *Discriminator == nil,
// never as the value 0 — a literal 0 tag ("0000") is valid and distinct from
// "no tag".
type Discriminator int16

// ParseDiscriminator parses the string form of a discriminator.
// The string must be exactly 4 ASCII digits ("0042", not "42").
func ParseDiscriminator(s string) (Discriminator, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: got %q", ErrDiscriminatorPattern, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: got %q", ErrDiscriminatorPattern, s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrDiscriminatorFormat, s)
	}
	return Discriminator(n), nil
}

// DiscriminatorFromInt validates a numeric discriminator.
func DiscriminatorFromInt(n int64) (Discriminator, error) {
	if n < 0 || n > 9999 {
		return 0, fmt.Errorf("%w: got %d", ErrDiscriminatorRange, n)
	}
	return Discriminator(n), nil
}

// String returns the canonical zero-padded display form, e.g. "0042".
func (d Discriminator) String() string {
	return fmt.Sprintf("%04d", int16(d))
}

// MarshalJSON encodes the discriminator in its string form.
func (d Discriminator) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts either a JSON number or a 4-digit JSON string.
// The number form is tried first, then the string pattern — an explicit
// fallback order rather than polymorphic decoding.
func (d *Discriminator) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, err := DiscriminatorFromInt(n)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrDiscriminatorFormat, data)
	}
	parsed, err := ParseDiscriminator(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalDiscordDiscriminator decodes Discord's discriminator field, where
// a numeric 0 (or the string "0") marks a migrated account and means
// "absent", not a literal tag of 0000.
func UnmarshalDiscordDiscriminator(data []byte) (*Discriminator, error) {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		if n == 0 {
			return nil, nil
		}
		d, err := DiscriminatorFromInt(n)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiscriminatorFormat, data)
	}
	if s == "0" {
		return nil, nil
	}
	d, err := ParseDiscriminator(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
