package ioc

import (
	"fmt"
	"io/fs"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/leakwatch/internal/model"
)

// maxValueLen is the database column limit for indicator values.
const maxValueLen = 255

// Compiled patterns shared by all scanners.
var (
	// URLs with an explicit scheme.
	urlRe = regexp.MustCompile(`(?i)https?://[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}(?:/[^\s"'<>)]*)?`)

	// Host-and-path strings without a scheme, e.g. "cdn.example.com/x".
	urlNoSchemeRe = regexp.MustCompile(`(?i)\b[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}[:/][^\s"'<>)]+`)

	// Email addresses.
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Dotted-quad IPv4 with 0-255 octet constraint.
	ipv4Re = regexp.MustCompile(`\b(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
)

// domainPattern pairs a watched domain with its compiled bare-domain
// matcher, which accepts the domain itself or any subdomain of it.
type domainPattern struct {
	domain string
	re     *regexp.Regexp
}

// Scanner extracts indicators from text files according to a Policy.
// Patterns are compiled once at construction.
type Scanner struct {
	policy     Policy
	domainPats []domainPattern
	log        *logrus.Entry
}

// NewScanner compiles the per-domain patterns for the given policy.
func NewScanner(policy Policy) *Scanner {
	pats := make([]domainPattern, 0, len(policy.Domains))
	for _, d := range policy.Domains {
		re := regexp.MustCompile(`(?i)\b([A-Za-z0-9][A-Za-z0-9.-]*` + regexp.QuoteMeta(d) + `)\b`)
		pats = append(pats, domainPattern{domain: d, re: re})
	}
	return &Scanner{
		policy:     policy,
		domainPats: pats,
		log:        logrus.WithField("component", "ioc"),
	}
}

// ScanDir recursively scans .txt files under root and returns the
// indicators found. Unreadable files are logged and skipped. The
// fingerprint identifies the source archive; relative paths are reported
// POSIX-style from root.
func (s *Scanner) ScanDir(root, fingerprint string, channelID int64) ([]model.Indicator, error) {
	var indicators []model.Indicator

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.WithError(err).Warnf("cannot walk %s, skipping", path)
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}

		content, err := readTextFile(path)
		if err != nil {
			s.log.WithError(err).Warnf("cannot read %s, skipping", path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		found := s.ScanContent(content, rel, fingerprint, channelID)
		indicators = append(indicators, found...)
		if len(found) > 0 {
			s.log.Debugf("found %d indicators in %s", len(found), rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return indicators, nil
}

// ScanContent scans a whole text body. Line numbers are 1-based and stable
// across the entire file.
func (s *Scanner) ScanContent(content, relPath, fingerprint string, channelID int64) []model.Indicator {
	var indicators []model.Indicator
	lineNum := 0
	for line := range strings.Lines(content) {
		lineNum++
		indicators = append(indicators, s.scanLine(strings.TrimRight(line, "\n"), lineNum, relPath, fingerprint, channelID)...)
	}
	return indicators
}

func (s *Scanner) scanLine(line string, lineNum int, relPath, fingerprint string, channelID int64) []model.Indicator {
	var out []model.Indicator
	emit := func(kind model.IndicatorKind, value string) {
		out = append(out, model.Indicator{
			Kind:              kind,
			Value:             value,
			SourceFingerprint: fingerprint,
			RelativePath:      relPath,
			SourceLine:        lineNum,
			ChannelID:         channelID,
		})
	}

	// URL hostnames, with and without scheme.
	if len(s.policy.Domains) > 0 {
		for _, m := range urlRe.FindAllString(line, -1) {
			s.emitURLHost(m, emit)
		}
		for _, m := range urlNoSchemeRe.FindAllString(line, -1) {
			if strings.HasPrefix(m, ".") || strings.HasPrefix(m, "/") {
				continue
			}
			s.emitURLHost("http://"+m, emit)
		}
	}

	// Bare domains.
	for _, p := range s.domainPats {
		for _, m := range p.re.FindAllStringSubmatch(line, -1) {
			value := strings.TrimRight(strings.ToLower(m[1]), ".")
			if value != "" && len(value) <= maxValueLen {
				emit(model.KindDomain, value)
			}
		}
	}

	// Emails on watched domains.
	if len(s.policy.EmailDomains) > 0 {
		for _, m := range emailRe.FindAllString(line, -1) {
			email := strings.ToLower(m)
			if len(email) > maxValueLen {
				continue
			}
			for _, d := range s.policy.EmailDomains {
				if strings.HasSuffix(email, "@"+d) {
					emit(model.KindEmail, email)
					break
				}
			}
		}
	}

	// IPv4 inside watched networks.
	if len(s.policy.Networks) > 0 {
		for _, m := range ipv4Re.FindAllString(line, -1) {
			ip, err := netip.ParseAddr(m)
			if err != nil {
				continue
			}
			if s.policy.containsAddr(ip) {
				emit(model.KindIPv4, ip.String())
			}
		}
	}

	return out
}

// emitURLHost extracts the hostname from a URL candidate and emits a
// domain indicator when a watched domain appears in it. Matching is
// substring over the hostname, mirroring how watch lists have been applied
// historically.
func (s *Scanner) emitURLHost(raw string, emit func(model.IndicatorKind, string)) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || len(host) > maxValueLen {
		return
	}
	for _, d := range s.policy.Domains {
		if strings.Contains(host, d) {
			emit(model.KindDomain, host)
			break
		}
	}
}

// readTextFile reads path as UTF-8, falling back to a Latin-1
// reinterpretation when the bytes are not valid UTF-8.
func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeLatin1(data), nil
}

// decodeLatin1 maps every byte to the Unicode code point of the same
// value. Latin-1 decoding never fails, so no byte is lost.
func decodeLatin1(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}
