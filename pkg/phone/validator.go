package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country prefix.
const DefaultRegion = "DE"

var (
	ErrEmpty   = errors.New("phone number cannot be empty")
	ErrInvalid = errors.New("invalid phone number")
)

// PhoneType represents the type of phone number.
type PhoneType string

const (
	TypeFixedLine         PhoneType = "FIXED_LINE"
	TypeMobile            PhoneType = "MOBILE"
	TypeFixedLineOrMobile PhoneType = "FIXED_LINE_OR_MOBILE"
	TypeTollFree          PhoneType = "TOLL_FREE"
	TypeVoip              PhoneType = "VOIP"
	TypeUnknown           PhoneType = "UNKNOWN"
)

// Result describes a parsed lead contact number.
type Result struct {
	E164          string    `json:"e164"`
	International string    `json:"international"`
	Region        string    `json:"region"`
	Type          PhoneType `json:"type"`
}

func parse(phone, region string) (*phonenumbers.PhoneNumber, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrEmpty
	}
	if region == "" {
		region = DefaultRegion
	}

	parsed, err := phonenumbers.Parse(phone, strings.ToUpper(region))
	if err != nil {
		return nil, fmt.Errorf("failed to parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return nil, ErrInvalid
	}
	return parsed, nil
}

// Normalize returns the E.164 form of phone, interpreting national numbers
// in region (the lead's country code).
func Normalize(phone, region string) (string, error) {
	parsed, err := parse(phone, region)
	if err != nil {
		return "", err
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// Validate parses phone and returns its canonical forms.
func Validate(phone, region string) (*Result, error) {
	parsed, err := parse(phone, region)
	if err != nil {
		return nil, err
	}
	return &Result{
		E164:          phonenumbers.Format(parsed, phonenumbers.E164),
		International: phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL),
		Region:        phonenumbers.GetRegionCodeForNumber(parsed),
		Type:          phoneType(phonenumbers.GetNumberType(parsed)),
	}, nil
}

func phoneType(t phonenumbers.PhoneNumberType) PhoneType {
	switch t {
	case phonenumbers.FIXED_LINE:
		return TypeFixedLine
	case phonenumbers.MOBILE:
		return TypeMobile
	case phonenumbers.FIXED_LINE_OR_MOBILE:
		return TypeFixedLineOrMobile
	case phonenumbers.TOLL_FREE:
		return TypeTollFree
	case phonenumbers.VOIP:
		return TypeVoip
	default:
		return TypeUnknown
	}
}
