package goSession

import (
	"encoding/json"
	"strconv"
	"strings"
)

// UserIDKind distinguishes string and numeric user ids.
type UserIDKind uint8

const (
	UserIDString UserIDKind = iota
	UserIDNumeric
)

// UserID is a string or int64 user identifier. Its canonical form is what the
// store and the tokens carry: the string itself, or {"i":<n>} for numbers.
type UserID struct {
	kind UserIDKind
	str  string
	num  int64
}

// StringUserID returns a string user id. A value shaped like the numeric
// form is rejected with ErrInvalidUserID when the id is used.
func StringUserID(s string) UserID { return UserID{kind: UserIDString, str: s} }

// NumericUserID returns a numeric user id, stored as {"i":n}.
func NumericUserID(n int64) UserID { return UserID{kind: UserIDNumeric, num: n} }

func (u UserID) Kind() UserIDKind { return u.kind }

// String returns the string id, or the decimal form of a numeric id.
func (u UserID) String() string {
	if u.kind == UserIDNumeric {
		return strconv.FormatInt(u.num, 10)
	}
	return u.str
}

// Int64 returns the numeric id and whether u is numeric.
func (u UserID) Int64() (int64, bool) {
	return u.num, u.kind == UserIDNumeric
}

// Canonical returns the storage form. A string id that would be read back as
// a numeric id is rejected with ErrInvalidUserID.
func (u UserID) Canonical() (string, error) {
	if u.kind == UserIDNumeric {
		return `{"i":` + strconv.FormatInt(u.num, 10) + `}`, nil
	}
	if u.str == "" {
		return "", ErrInvalidUserID
	}
	if _, ok := parseNumericForm(u.str); ok {
		return "", ErrInvalidUserID
	}
	return u.str, nil
}

// ParseUserID restores a UserID from its canonical form.
func ParseUserID(canonical string) (UserID, error) {
	if canonical == "" {
		return UserID{}, ErrInvalidUserID
	}
	if n, ok := parseNumericForm(canonical); ok {
		return NumericUserID(n), nil
	}
	return StringUserID(canonical), nil
}

func parseNumericForm(s string) (int64, bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return 0, false
	}
	var v struct {
		I *json.Number `json:"i"`
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil || v.I == nil || dec.More() {
		return 0, false
	}
	n, err := v.I.Int64()
	if err != nil {
		return 0, false
	}
	return n, true
}
