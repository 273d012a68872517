package valueobject

import (
	"fmt"
	"strings"
)

// Address is a value object representing a shipping address
// It is immutable - all operations return new Address instances
type Address struct {
	recipientName string
	street1       string
	street2       string
	city          string
	stateProvince string
	postalCode    string
	country       string
}

// AddressOption is a functional option for configuring Address
type AddressOption func(*Address)

// WithStreet2 sets the secondary street line for the address
func WithStreet2(street2 string) AddressOption {
	return func(a *Address) {
		a.street2 = strings.TrimSpace(street2)
	}
}

// WithStateProvince sets the state or province for the address
func WithStateProvince(state string) AddressOption {
	return func(a *Address) {
		a.stateProvince = strings.TrimSpace(state)
	}
}

// NewAddress creates a new Address with the required fields.
// Recipient name, street1, city, postal code and country are required;
// street2 and state/province are optional.
func NewAddress(recipientName, street1, city, postalCode, country string, opts ...AddressOption) (Address, error) {
	recipientName = strings.TrimSpace(recipientName)
	street1 = strings.TrimSpace(street1)
	city = strings.TrimSpace(city)
	postalCode = strings.TrimSpace(postalCode)
	country = strings.TrimSpace(country)

	if recipientName == "" {
		return Address{}, fmt.Errorf("recipient name is required")
	}
	if street1 == "" {
		return Address{}, fmt.Errorf("street1 is required")
	}
	if city == "" {
		return Address{}, fmt.Errorf("city is required")
	}
	if postalCode == "" {
		return Address{}, fmt.Errorf("postal code is required")
	}
	if country == "" {
		return Address{}, fmt.Errorf("country is required")
	}

	addr := Address{
		recipientName: recipientName,
		street1:       street1,
		city:          city,
		postalCode:    postalCode,
		country:       country,
	}

	for _, opt := range opts {
		opt(&addr)
	}

	return addr, nil
}

// MustNewAddress creates a new Address, panics on error
func MustNewAddress(recipientName, street1, city, postalCode, country string, opts ...AddressOption) Address {
	addr, err := NewAddress(recipientName, street1, city, postalCode, country, opts...)
	if err != nil {
		panic(err)
	}
	return addr
}

// EmptyAddress returns an empty address (for optional address fields)
func EmptyAddress() Address {
	return Address{}
}

// RecipientName returns the recipient name
func (a Address) RecipientName() string {
	return a.recipientName
}

// Street1 returns the primary street line
func (a Address) Street1() string {
	return a.street1
}

// Street2 returns the secondary street line
func (a Address) Street2() string {
	return a.street2
}

// City returns the city
func (a Address) City() string {
	return a.city
}

// StateProvince returns the state or province
func (a Address) StateProvince() string {
	return a.stateProvince
}

// PostalCode returns the postal code
func (a Address) PostalCode() string {
	return a.postalCode
}

// Country returns the country
func (a Address) Country() string {
	return a.country
}

// IsEmpty returns true if the address has no fields set
func (a Address) IsEmpty() bool {
	return a == Address{}
}

// Equals returns true if both addresses are identical
func (a Address) Equals(other Address) bool {
	return a == other
}

// String returns a single-line representation of the address
func (a Address) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.recipientName, a.street1, a.street2, a.city, a.stateProvince, a.postalCode, a.country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
