// Package identity resolves a conversational identity to the profile of the
// person behind it.
package identity

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// suffixLen is how many trailing digits identify a phone-equivalent key, so
// that "+972 50-123-4567" and "0501234567" resolve to the same member.
const suffixLen = 9

const RoleGuest = "guest"

type Profile struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email,omitempty"`
	Role  string `yaml:"role" json:"role"`
}

type Resolver interface {
	Resolve(identity string) Profile
}

// Default returns the profile used for identities missing from the roster.
func Default(identity string) Profile {
	return Profile{Name: identity, Role: RoleGuest}
}

// Anonymous resolves every identity to its default profile.
type Anonymous struct{}

func (Anonymous) Resolve(identity string) Profile {
	return Default(identity)
}

type Member struct {
	Profile `yaml:",inline"`
	Phone   string `yaml:"phone"`
}

type rosterFile struct {
	Members []Member `yaml:"members"`
}

type Roster struct {
	bySuffix map[string]Profile
}

// LoadRoster reads a YAML roster of members keyed by phone number.
func LoadRoster(path string) (*Roster, error) {
	// #nosec G304 -- path comes from operator-configured roster path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return NewRoster(f.Members)
}

func NewRoster(members []Member) (*Roster, error) {
	r := &Roster{bySuffix: make(map[string]Profile, len(members))}
	for i, m := range members {
		key := Key(m.Phone)
		if key == "" {
			return nil, fmt.Errorf("roster member %d (%s): phone is required", i, m.Name)
		}
		if _, dup := r.bySuffix[key]; dup {
			return nil, fmt.Errorf("roster member %d (%s): duplicate phone suffix %s", i, m.Name, key)
		}
		p := m.Profile
		if p.Role == "" {
			p.Role = RoleGuest
		}
		if p.Name == "" {
			p.Name = m.Phone
		}
		r.bySuffix[key] = p
	}
	return r, nil
}

func (r *Roster) Resolve(identity string) Profile {
	if r != nil {
		if p, ok := r.bySuffix[Key(identity)]; ok {
			return p
		}
	}
	return Default(identity)
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bySuffix)
}

// Key strips everything but digits and keeps the last nine.
func Key(identity string) string {
	var b strings.Builder
	for _, ch := range identity {
		if ch < unicode.MaxASCII && unicode.IsDigit(ch) {
			b.WriteRune(ch)
		}
	}
	digits := b.String()
	if len(digits) > suffixLen {
		digits = digits[len(digits)-suffixLen:]
	}
	return digits
}
