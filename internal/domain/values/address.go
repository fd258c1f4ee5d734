package values

import (
	"encoding/json"
	"slices"
	"strings"
	"unicode"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
)

const maxAddressLength = 128

// Address identifies any protocol participant: account, guardian, custody or token holder
type Address string

// NewAddress validates and normalizes an address
func NewAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxAddressLength {
		return "", errors.ErrInvalidAddress
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", errors.ErrInvalidAddress
		}
	}
	return Address(s), nil
}

// MustNewAddress creates an Address and panics on error (for constants/tests)
func MustNewAddress(s string) Address {
	a, err := NewAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsZero() bool {
	return a == ""
}

// UnmarshalJSON validates addresses arriving over the wire
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	addr, err := NewAddress(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// AddressSet is an unordered set of addresses
type AddressSet map[Address]struct{}

func NewAddressSet(addrs ...Address) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s AddressSet) Add(a Address) {
	s[a] = struct{}{}
}

func (s AddressSet) Contains(a Address) bool {
	_, ok := s[a]
	return ok
}

// Slice returns the members in a stable order
func (s AddressSet) Slice() []Address {
	out := make([]Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

func (s AddressSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *AddressSet) UnmarshalJSON(data []byte) error {
	var addrs []Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		return err
	}
	*s = NewAddressSet(addrs...)
	return nil
}
