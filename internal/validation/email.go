// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// disposableDomains содержит известные домены одноразовой почты.
// Сравнение выполняется точно и по суффиксу (поддомены).
var disposableDomains = map[string]struct{}{
	"mailinator.com":        {},
	"yopmail.com":           {},
	"10minutemail.com":      {},
	"10minutemail.net":      {},
	"10minutemail.org":      {},
	"tempmail.org":          {},
	"temp-mail.org":         {},
	"tempmailo.com":         {},
	"tempmail.dev":          {},
	"tempmail.plus":         {},
	"maildrop.cc":           {},
	"mohmal.com":            {},
	"guerrillamail.com":     {},
	"guerrillamail.de":      {},
	"guerrillamail.net":     {},
	"guerrillamail.org":     {},
	"guerrillamail.biz":     {},
	"guerrillamail.info":    {},
	"guerrillamailblock.com": {},
	"sharklasers.com":       {},
	"grr.la":                {},
	"getnada.com":           {},
	"dropmail.me":           {},
	"mailnesia.com":         {},
	"trashmail.com":         {},
	"trash-mail.com":        {},
	"trashmail.de":          {},
	"dispostable.com":       {},
	"mailcatch.com":         {},
	"throwawaymail.com":     {},
	"minuteinbox.com":       {},
	"tempail.com":           {},
	"spambox.xyz":           {},
	"fakemail.net":          {},
	"spamgourmet.com":       {},
	"jetable.org":           {},
	"mailtm.com":            {},
	"mytemp.email":          {},
}

// IsValidEmail проверяет адрес на разумный синтаксис без обращения к DNS.
func IsValidEmail(email string) bool {
	s := strings.TrimSpace(email)
	if len(s) < 6 || len(s) > 254 {
		return false
	}

	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}

	local, domain := s[:at], s[at+1:]
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	for _, r := range local {
		if !isLocalChar(r) {
			return false
		}
	}

	return isValidDomain(domain)
}

func isLocalChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(".!#$%&'*+/=?^_`{|}~-", r)
}

func isValidDomain(domain string) bool {
	if domain == "" || !strings.Contains(domain, ".") {
		return false
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
			if !ok {
				return false
			}
		}
	}
	return true
}

// IsDisposableEmail сообщает, принадлежит ли адрес провайдеру одноразовой почты.
func IsDisposableEmail(email string) bool {
	s := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(s, '@')
	if at == -1 || at == len(s)-1 {
		return false
	}
	domain := strings.TrimRight(s[at+1:], ".")

	for bad := range disposableDomains {
		if domain == bad || strings.HasSuffix(domain, "."+bad) {
			return true
		}
	}
	return false
}
