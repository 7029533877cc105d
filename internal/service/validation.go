package service

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

var (
	zipPattern    = regexp.MustCompile(`^\d{4}$`)
	digitsOnly    = regexp.MustCompile(`^\d+$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

const maxTextLength = 255

// ValidateCheckoutData checks the contact and customer block submitted at
// checkout.  It returns nil when everything is valid.
func ValidateCheckoutData(in CheckoutInput) *ValidationError {
	v := &ValidationError{}
	c := in.Contact

	required := []struct{ field, value string }{
		{"contactName", c.ContactName},
		{"contactEmail", c.ContactEmail},
		{"contactPhone", c.ContactPhone},
		{"street", c.ResponsibleStreet},
		{"zipCode", c.ResponsibleZipCode},
		{"city", c.ResponsibleCity},
		{"organizerName", in.OrganizerName},
		{"customerType", c.CustomerIdentifierType},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			v.Add(r.field, "is required")
		}
	}

	if email := strings.TrimSpace(c.ContactEmail); email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			v.Add("contactEmail", "is not a valid email address")
		}
	}
	if zip := strings.TrimSpace(c.ResponsibleZipCode); zip != "" && !zipPattern.MatchString(zip) {
		v.Add("zipCode", "must be 4 digits")
	}
	if phone := phoneStripper.Replace(strings.TrimSpace(c.ContactPhone)); phone != "" && len(phone) < 8 {
		v.Add("contactPhone", "must be at least 8 characters")
	}
	if utf8.RuneCountInString(in.EventTitle) > maxTextLength {
		v.Add("eventTitle", "must be at most 255 characters")
	}
	if utf8.RuneCountInString(in.OrganizerName) > maxTextLength {
		v.Add("organizerName", "must be at most 255 characters")
	}

	switch c.CustomerIdentifierType {
	case "":
	case model.CustomerOrganization:
		if strings.TrimSpace(c.CustomerOrganizationNumber) == "" {
			v.Add("organizationNumber", "is required for organizations")
		}
	case model.CustomerSSN:
		if ssn := in.ssn(); ssn != "" && !ValidSSN(ssn) {
			v.Add("customerSsn", "is not a valid national identity number")
		}
	default:
		v.Add("customerType", "must be ssn or organization_number")
	}
	if num := strings.TrimSpace(c.CustomerOrganizationNumber); num != "" {
		if !ValidOrganizationNumber(num) {
			v.Add("organizationNumber", "is not a valid organization number")
		}
		if strings.TrimSpace(c.CustomerOrganizationName) == "" {
			v.Add("organizationName", "is required when an organization number is given")
		}
	}

	if v.Empty() {
		return nil
	}
	return v
}

// mod11 returns the control digit for digits weighted by weights, or -1
// when the number cannot have a valid control digit.
func mod11(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	k := 11 - sum%11
	switch k {
	case 11:
		return 0
	case 10:
		return -1
	}
	return k
}

// ValidOrganizationNumber checks a 9 digit Norwegian organization number.
func ValidOrganizationNumber(num string) bool {
	if len(num) != 9 || !digitsOnly.MatchString(num) {
		return false
	}
	k := mod11(num, []int{3, 2, 7, 6, 5, 4, 3, 2})
	return k >= 0 && k == int(num[8]-'0')
}

// ValidSSN checks an 11 digit Norwegian national identity number and both
// of its control digits.
func ValidSSN(ssn string) bool {
	if len(ssn) != 11 || !digitsOnly.MatchString(ssn) {
		return false
	}
	k1 := mod11(ssn, []int{3, 7, 6, 1, 8, 9, 4, 5, 2})
	if k1 < 0 || k1 != int(ssn[9]-'0') {
		return false
	}
	k2 := mod11(ssn, []int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2})
	return k2 >= 0 && k2 == int(ssn[10]-'0')
}
