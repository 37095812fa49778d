package nlu

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EntityKey names a structured value pulled out of free text.
type EntityKey string

const (
	EntityName    EntityKey = "name"
	EntityEmail   EntityKey = "email"
	EntityCompany EntityKey = "company"
	EntityDate    EntityKey = "date"
	EntityTime    EntityKey = "time"
	EntityPhone   EntityKey = "phone"
)

// Known reports whether k is one of the keys Extract can produce.
func (k EntityKey) Known() bool {
	switch k {
	case EntityName, EntityEmail, EntityCompany, EntityDate, EntityTime, EntityPhone:
		return true
	}
	return false
}

// Entities maps each extracted key to its value. A key is present only when
// its rule matched.
type Entities map[EntityKey]string

type entityRule struct {
	key   EntityKey
	re    *regexp.Regexp
	group int
	norm  func(string) string
}

var entityRules = []entityRule{
	{
		key:   EntityName,
		re:    regexp.MustCompile(`(?i)(?:меня зовут|мо[её] имя|зовут|my name is|called)\s+([а-яёa-z]+)`),
		group: 1,
		norm:  capitalize,
	},
	{
		key: EntityEmail,
		re:  regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	},
	{
		key:   EntityCompany,
		re:    regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:компани[яиюей]|работаю в|из|company|i work at|from)\s+([«"]?[а-яёa-z][^,.!?]+[»"]?)`),
		group: 1,
	},
	{
		key: EntityDate,
		re:  regexp.MustCompile(`(?i)\b\d{1,2}[./-]\d{1,2}[./-]\d{2,4}\b|послезавтра|завтра|сегодня|понедельник|вторник|сред[аеуы]|четверг|пятниц[аеуы]|суббот[аеуы]|воскресенье|today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday`),
	},
	{
		key: EntityTime,
		re:  regexp.MustCompile(`(?i)\d{1,2}:\d{2}|утром|дн[её]м|вечером|ночью|после обеда|morning|afternoon|evening`),
	},
	{
		key: EntityPhone,
		re:  regexp.MustCompile(`\+?[78][\s(]*\d{3}[)\s-]*\d{3}[\s-]?\d{2}[\s-]?\d{2}`),
	},
}

// Extract applies every entity rule to text independently and returns the
// first match of each. Rules never fail; a rule that does not match simply
// leaves its key absent.
func Extract(text string) Entities {
	out := make(Entities)
	for _, rule := range entityRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(m[rule.group])
		if v == "" {
			continue
		}
		if rule.norm != nil {
			v = rule.norm(v)
		}
		out[rule.key] = v
	}
	return out
}

// capitalize upper-cases the first letter so "иван" and "Иван" store alike.
func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

// Analysis bundles the classifier's verdict with the extracted entities.
type Analysis struct {
	Classification
	Entities Entities `json:"entities"`
}
